package app

import (
	"os"
	"sync"
)

const testModeEnv = "FRANCHISE_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether binaries should skip connecting to backing services.
func InTestMode() bool {
	return testMode()
}
