package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "MEDSYNC_TEST_MODE"

// testMode caches the MEDSYNC_TEST_MODE flag: 0 unread, 1 off, 2 on.
var testMode atomic.Int32

// InTestMode reports whether commands should skip long-running side effects
// such as binding a port or connecting to the queue.
func InTestMode() bool {
	if testMode.Load() == 0 {
		RefreshTestMode()
	}
	return testMode.Load() == 2
}

// RefreshTestMode re-reads MEDSYNC_TEST_MODE after environment changes.
func RefreshTestMode() {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	if on {
		testMode.Store(2)
		return
	}
	testMode.Store(1)
}
