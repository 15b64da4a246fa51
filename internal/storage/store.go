// Package storage keeps generated files in a blob bucket.
//
// Buckets are opened by URL, so file:// serves local development and
// mem:// serves tests. Other gocloud.dev drivers register the same way.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/buildledger/buildledger/internal/shared"
)

// ErrInvalidKey is returned for keys that would escape the bucket prefix.
var ErrInvalidKey = errors.New("storage: invalid key")

// Store writes blobs to a bucket and serves them under baseURL.
type Store struct {
	bucket  *blob.Bucket
	baseURL string
	logger  *slog.Logger
}

// New wraps an open bucket. The Store owns it from here on.
func New(bucket *blob.Bucket, baseURL string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{bucket: bucket, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Open opens bucketURL, e.g. "file:///var/blobs" or "mem://".
func Open(ctx context.Context, bucketURL, baseURL string, logger *slog.Logger) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", bucketURL, err)
	}
	return New(bucket, baseURL, logger), nil
}

// OpenDir opens a file bucket rooted at dir, creating it when missing.
func OpenDir(dir, baseURL string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	bucket, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dir, err)
	}
	return New(bucket, baseURL, logger), nil
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

// Put replaces key. Readers see either the old blob or the new one.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	opts := &blob.WriterOptions{ContentType: contentType(key)}
	if err := s.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	return nil
}

// Get reads a blob. Missing blobs report shared.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, err := s.bucket.ReadAll(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether key has been written.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	ok, err := s.bucket.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	return ok, nil
}

// URL is the public address of key, served by Handler under /files/.
func (s *Store) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/files/" + strings.Join(parts, "/")
}

// Handler serves blobs by key. Mount it behind a prefix strip.
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/")
		if validKey(key) != nil {
			http.NotFound(w, r)
			return
		}
		reader, err := s.bucket.NewReader(r.Context(), key, nil)
		if gcerrors.Code(err) == gcerrors.NotFound {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.logger.Error("open stored file", slog.String("key", key), slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		defer reader.Close()

		h := w.Header()
		h.Set("Content-Type", reader.ContentType())
		h.Set("Content-Length", strconv.FormatInt(reader.Size(), 10))
		h.Set("Last-Modified", reader.ModTime().UTC().Format(http.TimeFormat))
		h.Set("Cache-Control", "private, max-age=3600")
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, reader); err != nil {
			s.logger.Warn("stream stored file", slog.String("key", key), slog.Any("error", err))
		}
	})
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return ErrInvalidKey
	}
	clean := path.Clean(key)
	if clean != key || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return ErrInvalidKey
	}
	return nil
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
