package app

import (
	"log"
	"mime"
)

// servedTypes are the blob extensions exposed under /files/.
var servedTypes = map[string]string{
	".pdf":  "application/pdf",
	".html": "text/html; charset=utf-8",
}

func init() {
	for ext, typ := range servedTypes {
		if mime.TypeByExtension(ext) != "" {
			continue
		}
		if err := mime.AddExtensionType(ext, typ); err != nil {
			log.Printf("app: register MIME type for %s: %v", ext, err)
		}
	}
}
