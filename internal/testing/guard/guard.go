// Package guard switches the binaries into test mode when imported by a test.
package guard

import (
	"os"
	"sync"

	"github.com/buildledger/buildledger/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
		app.RefreshTestMode()
	})
}
