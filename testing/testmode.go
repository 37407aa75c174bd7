// Package testing switches the binaries into test mode so their main functions return before
// touching Postgres or Redis.
package testing

import (
	"os"
	"sync"
)

// EnvTestMode is read by app.InTestMode.
const EnvTestMode = "AUTHMATRIX_TEST_MODE"

var once sync.Once

// Enable sets the test mode flag for the current process.
func Enable() {
	once.Do(func() {
		_ = os.Setenv(EnvTestMode, "1")
	})
}

func init() {
	Enable()
}
