// Package guard forces CONSOL_TEST_MODE for test binaries that import it so
// the commands never dial Postgres or Redis from a test run.
package guard

import (
	"os"
	"sync"
)

const envTestMode = "CONSOL_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(envTestMode) == "" {
			_ = os.Setenv(envTestMode, "1")
		}
	})
}
