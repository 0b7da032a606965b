package app

import (
	"os"
	"sync"
)

// TestModeEnv is set by the testing package. Binaries started under it exit
// before opening Postgres, Redis or a listener.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether the process runs under go test.
func InTestMode() bool {
	return testMode()
}
