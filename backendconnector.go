package memdproxy

import (
	"context"
	"net"
	"time"

	"github.com/couchbaselabs/memdproxy/zaputils"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultBreakerFailureThreshold = 5
	defaultBreakerOpenTimeout      = 5 * time.Second
)

type BackendConnectorOptions struct {
	Logger *zap.Logger

	// BreakerFailureThreshold is the number of consecutive failed dials
	// after which dials fail fast for BreakerOpenTimeout.
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration
}

// BackendConnector pairs every inbound connection with exactly one outbound
// connection to the backend and relays frames both ways until either side
// finishes.
type BackendConnector struct {
	cfg         Config
	backendAddr string
	logger      *zap.Logger
	dialer      net.Dialer
	breaker     *gobreaker.CircuitBreaker[net.Conn]
}

func NewBackendConnector(cfg Config, opts *BackendConnectorOptions) (*BackendConnector, error) {
	if opts == nil {
		opts = &BackendConnectorOptions{}
	}

	cfg = cfg.withDefaults()
	logger := loggerOrNop(opts.Logger)

	c := &BackendConnector{
		cfg:    cfg,
		logger: logger,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
	}

	if cfg.EchoMode() {
		return c, nil
	}

	backendAddr, err := ResolveBackendAddress(cfg.BackendAddress)
	if err != nil {
		return nil, err
	}
	c.backendAddr = backendAddr

	failureThreshold := opts.BreakerFailureThreshold
	if failureThreshold == 0 {
		failureThreshold = defaultBreakerFailureThreshold
	}
	openTimeout := opts.BreakerOpenTimeout
	if openTimeout == 0 {
		openTimeout = defaultBreakerOpenTimeout
	}

	c.breaker = gobreaker.NewCircuitBreaker[net.Conn](gobreaker.Settings{
		Name:        backendAddr,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			// a client going away mid-dial says nothing about the backend
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("backend circuit breaker changed state",
				zap.String("backend", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	return c, nil
}

// BackendAddress returns the resolved host:port dialled for each relay, or
// an empty string in echo mode.
func (c *BackendConnector) BackendAddress() string {
	return c.backendAddr
}

func (c *BackendConnector) dial(ctx context.Context) (net.Conn, error) {
	conn, err := c.breaker.Execute(func() (net.Conn, error) {
		return c.dialer.DialContext(ctx, "tcp", c.backendAddr)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial backend %s", c.backendAddr)
	}
	return conn, nil
}

func (c *BackendConnector) handlerOptions(id string, remoteAddr string, dir Direction, transform Transform) *ConnectionHandlerOptions {
	return &ConnectionHandlerOptions{
		ID:             id,
		RemoteAddr:     remoteAddr,
		Direction:      dir,
		Transform:      transform,
		ReadBufferSize: c.cfg.ReadBufferSize,
		MaxBodyLength:  c.cfg.MaxBodyLength,
		ReadTimeout:    c.cfg.ReadTimeout,
		WriteTimeout:   c.cfg.WriteTimeout,
		Logger:         c.logger,
	}
}

type relayResult struct {
	handler *ConnectionHandler
	err     error
}

// Relay proxies inbound until either direction finishes, then closes both
// sockets and waits for the other direction to stop.  A client which stops
// sending cleanly first still gets the backend's remaining responses, for at
// most DrainTimeout.  It returns the error which ended the relay, or nil if
// it ended with a clean close.  inbound is always closed by the time Relay
// returns.
func (c *BackendConnector) Relay(ctx context.Context, id string, inbound net.Conn) error {
	logger := connLogger(c.logger, id)
	remoteAddr := ""
	if addr := inbound.RemoteAddr(); addr != nil {
		remoteAddr = addr.String()
	}

	if c.cfg.EchoMode() {
		return c.echo(ctx, id, remoteAddr, inbound)
	}

	outbound, err := c.dial(ctx)
	if err != nil {
		inbound.Close()
		return TransportError{Cause: err}
	}

	logger.Debug("backend connection established",
		zaputils.Addr("client", inbound.RemoteAddr()),
		zaputils.Addr("backend", outbound.RemoteAddr()),
		zaputils.Addr("local", outbound.LocalAddr()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	closeBoth := func() {
		_ = inbound.Close()
		_ = outbound.Close()
	}
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	upstream := NewConnectionHandler(inbound, outbound,
		c.handlerOptions(id, remoteAddr, DirectionUpstream, c.cfg.RequestTransform))
	downstream := NewConnectionHandler(outbound, inbound,
		c.handlerOptions(id, remoteAddr, DirectionDownstream, c.cfg.ResponseTransform))

	results := make(chan relayResult, 2)
	for _, h := range []*ConnectionHandler{upstream, downstream} {
		go func(h *ConnectionHandler) {
			results <- relayResult{handler: h, err: h.Run(ctx)}
		}(h)
	}

	first := <-results
	stopDrain := c.startDrain(first, upstream, outbound, closeBoth)
	if stopDrain == nil {
		cancel()
		closeBoth()
	}
	second := <-results
	if stopDrain != nil {
		stopDrain()
		cancel()
		closeBoth()
	}

	logger.Debug("relay finished",
		zap.Stringer("firstDirection", first.handler.direction),
		zap.Stringer("firstState", first.handler.State()),
		zap.NamedError("firstError", first.err),
		zap.Stringer("secondState", second.handler.State()),
		zap.Uint64("framesUpstream", upstream.FramesRelayed()),
		zap.Uint64("framesDownstream", downstream.FramesRelayed()))

	return first.err
}

type writeCloser interface {
	CloseWrite() error
}

// startDrain half-closes the backend connection once the client has
// finished sending cleanly, so the backend sees the end of the request
// stream while its outstanding responses still reach the client.  The
// drain is cut short after DrainTimeout.  It returns nil when no drain was
// started.
func (c *BackendConnector) startDrain(first relayResult, upstream *ConnectionHandler, outbound net.Conn, closeBoth func()) func() {
	if first.handler != upstream || first.err != nil {
		return nil
	}

	conn, ok := outbound.(writeCloser)
	if !ok || conn.CloseWrite() != nil {
		return nil
	}

	timer := time.AfterFunc(c.cfg.DrainTimeout, closeBoth)
	return func() {
		timer.Stop()
	}
}

func (c *BackendConnector) echo(ctx context.Context, id string, remoteAddr string, inbound net.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = inbound.Close()
	})
	defer stop()
	defer inbound.Close()

	h := NewConnectionHandler(inbound, inbound,
		c.handlerOptions(id, remoteAddr, DirectionEcho, c.cfg.RequestTransform))
	return h.Run(ctx)
}
