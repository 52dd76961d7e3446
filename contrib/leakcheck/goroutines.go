package leakcheck

import (
	"log"
	"runtime"
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

const (
	modulePath             = "github.com/couchbaselabs/memdproxy"
	goroutineCleanupPeriod = 1 * time.Second
)

// ReportLeakedGoroutines waits for the goroutine count to fall back to
// expectedGoroutineCount.  If it does not, any goroutine still running code
// from this module is reported as leaked.  Extra goroutines owned purely by
// the runtime or the testing package are tolerated.
func ReportLeakedGoroutines(expectedGoroutineCount int) bool {
	var leaked []string
	deadline := time.Now().Add(goroutineCleanupPeriod)
	for {
		runtime.Gosched()

		if runtime.NumGoroutine() <= expectedGoroutineCount {
			log.Printf("No goroutines appear to have leaked (%d expected)", expectedGoroutineCount)
			return true
		}

		leaked = moduleGoroutines()
		if len(leaked) == 0 || time.Now().After(deadline) {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	if len(leaked) == 0 {
		log.Printf("No module goroutines appear to have leaked (%d running, %d expected)",
			runtime.NumGoroutine(), expectedGoroutineCount)
		return true
	}

	log.Printf("Detected %d leaked goroutines", len(leaked))
	for _, stack := range leaked {
		log.Printf("%s\n", stack)
	}
	return false
}

func moduleGoroutines() []string {
	buf := make([]byte, 1<<20)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	stacks := strings.Split(string(buf), "\n\n")
	return slices.DeleteFunc(stacks, func(stack string) bool {
		return !strings.Contains(stack, modulePath) ||
			strings.Contains(stack, modulePath+"/contrib/leakcheck.")
	})
}

// EnableAll turns on every kind of leak tracking.
func EnableAll() {
	EnableConnTracking()
}

// ReportAll reports leaked connections and goroutines, returning false if
// either leaked.
func ReportAll(expectedGoroutineCount int) bool {
	connsOk := ReportLeakedConns()
	goroutinesOk := ReportLeakedGoroutines(expectedGoroutineCount)
	return connsOk && goroutinesOk
}
