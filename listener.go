package memdproxy

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/couchbaselabs/memdproxy/zaputils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const (
	minAcceptRetryDelay = 5 * time.Millisecond
	maxAcceptRetryDelay = 1 * time.Second
)

// ConnResult reports how a proxied connection ended.  Err is nil for a clean
// close.
type ConnResult struct {
	ID         string
	RemoteAddr string
	Err        error
}

type ProxyListenerOptions struct {
	// OnConnResult is invoked once for every accepted connection after it
	// has been torn down.  It may be called concurrently.
	OnConnResult func(ConnResult)

	Connector *BackendConnectorOptions

	// TracerProvider supplies the connection spans.  Defaults to the global
	// provider.
	TracerProvider trace.TracerProvider
}

// ProxyListener accepts client connections and relays each one to the
// backend on its own goroutines.  Connections share nothing but the
// immutable Config.
type ProxyListener struct {
	cfg          Config
	logger       *zap.Logger
	connector    *BackendConnector
	onConnResult func(ConnResult)
	tracer       trace.Tracer

	connCtx    context.Context
	connCancel context.CancelFunc

	lock     sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	closed   bool
	wg       sync.WaitGroup

	numActive   atomic.Int64
	numAccepted atomic.Uint64
}

func NewProxyListener(cfg Config, opts *ProxyListenerOptions) (*ProxyListener, error) {
	if opts == nil {
		opts = &ProxyListenerOptions{}
	}

	cfg = cfg.withDefaults()

	var connectorOpts BackendConnectorOptions
	if opts.Connector != nil {
		connectorOpts = *opts.Connector
	}
	if connectorOpts.Logger == nil {
		connectorOpts.Logger = cfg.Logger
	}

	connector, err := NewBackendConnector(cfg, &connectorOpts)
	if err != nil {
		return nil, err
	}

	connCtx, connCancel := context.WithCancel(context.Background())

	return &ProxyListener{
		cfg:          cfg,
		logger:       cfg.Logger,
		connector:    connector,
		onConnResult: opts.OnConnResult,
		tracer:       connTracer(opts.TracerProvider),
		connCtx:      connCtx,
		connCancel:   connCancel,
		conns:        make(map[string]net.Conn),
	}, nil
}

// Listen binds the listen address.  Failing to bind is fatal for the proxy.
func (l *ProxyListener) Listen() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.closed {
		return ErrListenerClosed
	}
	if l.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", l.cfg.ListenAddress)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", l.cfg.ListenAddress)
	}
	l.listener = listener

	l.logger.Info("proxy listening",
		zaputils.Addr("address", listener.Addr()),
		zap.String("backend", l.connector.BackendAddress()),
		zap.Bool("echoMode", l.cfg.EchoMode()))

	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *ProxyListener) Addr() net.Addr {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// ListenAndServe binds and then serves until ctx is cancelled or Close is
// called.
func (l *ProxyListener) ListenAndServe(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve runs the accept loop.  Cancelling ctx closes the listener.  Serve
// returns once the listener is closed and every connection it spawned has
// finished.
func (l *ProxyListener) Serve(ctx context.Context) error {
	l.lock.Lock()
	listener := l.listener
	l.lock.Unlock()

	if listener == nil {
		return ErrListenerNotBound
	}

	stop := context.AfterFunc(ctx, func() {
		_ = l.Close()
	})
	defer stop()
	defer l.wg.Wait()

	var retryDelay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if retryDelay == 0 {
				retryDelay = minAcceptRetryDelay
			} else {
				retryDelay *= 2
			}
			if retryDelay > maxAcceptRetryDelay {
				retryDelay = maxAcceptRetryDelay
			}

			l.logger.Error("failed to accept connection",
				zap.Error(err),
				zap.Duration("retryIn", retryDelay))

			select {
			case <-time.After(retryDelay):
			case <-l.connCtx.Done():
				return nil
			}
			continue
		}
		retryDelay = 0

		l.handleConn(conn)
	}
}

func (l *ProxyListener) handleConn(conn net.Conn) {
	id := uuid.NewString()
	remoteAddr := conn.RemoteAddr().String()
	l.numAccepted.Inc()

	if maxConns := l.cfg.MaxConnections; maxConns > 0 && l.numActive.Load() >= int64(maxConns) {
		l.logger.Warn("rejecting connection, too many connections",
			zaputils.ConnID("connId", id),
			zap.String("remote", remoteAddr),
			zap.Int("maxConnections", maxConns))
		_ = conn.Close()
		l.report(ConnResult{ID: id, RemoteAddr: remoteAddr, Err: ErrTooManyConnections})
		return
	}

	if !l.track(id, conn) {
		_ = conn.Close()
		return
	}

	go func() {
		defer l.wg.Done()

		err := l.serveConn(id, remoteAddr, conn)

		_ = conn.Close()
		l.untrack(id)
		l.report(ConnResult{ID: id, RemoteAddr: remoteAddr, Err: err})
	}()
}

func (l *ProxyListener) serveConn(id string, remoteAddr string, conn net.Conn) error {
	ctx, span := l.tracer.Start(l.connCtx, "memdproxy.connection",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("memdproxy.conn_id", id),
			attribute.String("network.peer.address", remoteAddr),
			attribute.String("server.address", l.connector.BackendAddress()),
		))
	defer span.End()

	connectionsAccepted.Add(ctx, 1)
	connectionsActive.Add(ctx, 1)
	defer connectionsActive.Add(context.Background(), -1)

	l.logger.Debug("connection accepted",
		zaputils.ConnID("connId", id),
		zap.String("remote", remoteAddr))

	err := l.connector.Relay(ctx, id, conn)
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind(err))
	}

	return err
}

func (l *ProxyListener) report(res ConnResult) {
	logger := connLogger(l.logger, res.ID, zap.String("remote", res.RemoteAddr))

	switch {
	case res.Err == nil:
		logger.Debug("connection closed")
	case errors.Is(res.Err, context.Canceled):
		logger.Debug("connection closed by shutdown")
	default:
		recordConnFailure(context.Background(), res.Err)
		logger.Warn("connection failed",
			zap.String("kind", errorKind(res.Err)),
			zap.Error(res.Err))
	}

	if l.onConnResult != nil {
		l.onConnResult(res)
	}
}

func (l *ProxyListener) track(id string, conn net.Conn) bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.closed {
		return false
	}

	l.conns[id] = conn
	l.numActive.Inc()
	l.wg.Add(1)
	return true
}

func (l *ProxyListener) untrack(id string) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if _, ok := l.conns[id]; ok {
		delete(l.conns, id)
		l.numActive.Dec()
	}
}

func (l *ProxyListener) isClosed() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.closed
}

// Sessions returns the ids of the connections currently being relayed.
func (l *ProxyListener) Sessions() []string {
	l.lock.Lock()
	ids := make([]string, 0, len(l.conns))
	for id := range l.conns {
		ids = append(ids, id)
	}
	l.lock.Unlock()

	slices.Sort(ids)
	return ids
}

// ActiveConnections returns the number of connections currently relayed.
func (l *ProxyListener) ActiveConnections() int64 {
	return l.numActive.Load()
}

// AcceptedConnections returns the number of connections accepted so far,
// including rejected ones.
func (l *ProxyListener) AcceptedConnections() uint64 {
	return l.numAccepted.Load()
}

// Close stops accepting and tears down every active connection.  It does
// not wait for them; Serve does.
func (l *ProxyListener) Close() error {
	l.lock.Lock()
	if l.closed {
		l.lock.Unlock()
		return nil
	}
	l.closed = true
	listener := l.listener
	conns := make([]net.Conn, 0, len(l.conns))
	for _, conn := range l.conns {
		conns = append(conns, conn)
	}
	l.lock.Unlock()

	l.connCancel()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}

	l.logger.Info("proxy listener closed", zap.Int("activeConnections", len(conns)))

	return err
}
