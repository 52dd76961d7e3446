package memdproxy

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/couchbaselabs/gocbconnstr/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultListenAddress  = "127.0.0.1:8080"
	DefaultBackendAddress = "127.0.0.1:11210"

	defaultDialTimeout  = 10 * time.Second
	defaultDrainTimeout = 5 * time.Second
)

// Config is the immutable configuration shared, by value, with every
// connection a ProxyListener accepts.
type Config struct {
	// ListenAddress is the host:port the proxy binds.
	ListenAddress string

	// BackendAddress is either a host:port or a couchbase connection string
	// (couchbase://host[:port]).  When empty, connections run in echo mode:
	// transformed requests are written straight back to the client.
	BackendAddress string

	// RequestTransform is applied to every packet read from a client.
	RequestTransform Transform

	// ResponseTransform is applied to every packet read from the backend.
	ResponseTransform Transform

	// ReadBufferSize is the minimum free buffer space for each socket read.
	ReadBufferSize int

	// MaxBodyLength rejects frames declaring a larger body.  Zero disables
	// the check.
	MaxBodyLength uint32

	// DialTimeout bounds connecting to the backend.
	DialTimeout time.Duration

	// DrainTimeout bounds how long responses already sent by the backend
	// are still relayed after the client has finished sending.
	DrainTimeout time.Duration

	// ReadTimeout and WriteTimeout set per-frame socket deadlines.  Zero
	// means no deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxConnections caps concurrently proxied client connections.  Zero
	// means unbounded.
	MaxConnections int

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.RequestTransform == nil {
		c.RequestTransform = IdentityTransform
	}
	if c.ResponseTransform == nil {
		c.ResponseTransform = IdentityTransform
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	c.Logger = loggerOrNop(c.Logger)
	return c
}

// EchoMode reports whether connections are answered without a backend.
func (c Config) EchoMode() bool {
	return c.BackendAddress == ""
}

// ResolveBackendAddress turns a backend address into a dialable host:port.
// Connection strings resolve to their first data service host.
func ResolveBackendAddress(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", errors.Wrapf(err, "invalid backend address %q", addr)
		}
		return addr, nil
	}

	baseSpec, err := gocbconnstr.Parse(addr)
	if err != nil {
		return "", errors.Wrapf(err, "invalid backend connection string %q", addr)
	}

	spec, err := gocbconnstr.Resolve(baseSpec)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve backend connection string %q", addr)
	}

	if len(spec.MemdHosts) == 0 {
		return "", errors.Errorf("backend connection string %q has no data service hosts", addr)
	}

	host := spec.MemdHosts[0]
	return net.JoinHostPort(host.Host, strconv.Itoa(host.Port)), nil
}
