package testutils

import (
	"flag"
	"os"
	"runtime"
	"strings"
	"testing"

	"github.com/couchbaselabs/memdproxy/contrib/leakcheck"
	"github.com/google/uuid"
)

var TestOpts TestOptions

type TestOptions struct {
	// BackendAddr is a real memcached (or couchbase data service) address
	// used by the long tests.
	BackendAddr string
	LongTest    bool
	RunName     string
}

func envFlagString(envName, name, value, usage string) *string {
	envValue := os.Getenv(envName)
	if envValue != "" {
		value = envValue
	}
	return flag.String(name, value, usage)
}

var backendAddr = envFlagString("MEMDPROXY_BACKEND", "backend", "",
	"Address of a memcached binary protocol server to run long tests against")

func SetupTests(m *testing.M) {
	initialGoroutineCount := runtime.NumGoroutine()
	flag.Parse()

	if *backendAddr != "" && !testing.Short() {
		TestOpts.LongTest = true
		TestOpts.BackendAddr = *backendAddr
	}

	TestOpts.RunName = strings.ReplaceAll(uuid.NewString(), "-", "")[0:8]

	leakcheck.EnableAll()

	result := m.Run()

	if !leakcheck.ReportAll(initialGoroutineCount) {
		result = 1
	}

	os.Exit(result)
}

func SkipIfShortTest(t *testing.T) {
	if !TestOpts.LongTest {
		t.Skipf("skipping long test")
	}
}
