package memdproxy

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/couchbaselabs/memdproxy/memdx"
	"github.com/couchbaselabs/memdproxy/zaputils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type ConnectionHandlerOptions struct {
	// ID identifies the proxied connection in logs and to transforms.
	ID         string
	RemoteAddr string
	Direction  Direction
	Transform  Transform

	ReadBufferSize int
	MaxBodyLength  uint32
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	Logger *zap.Logger
}

// ConnectionHandler relays frames in one direction: it decodes packets from
// src, passes each through its transform and writes the result to dst.
// Frames are handled strictly in arrival order and each write completes
// before the next frame is read.
type ConnectionHandler struct {
	id           string
	remoteAddr   string
	direction    Direction
	transform    Transform
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger

	src    io.Reader
	dst    io.Writer
	reader memdx.PacketReader
	writer memdx.PacketWriter

	state         atomic.Uint32
	framesRelayed atomic.Uint64
	attribs       *frameAttribs
}

func NewConnectionHandler(src io.Reader, dst io.Writer, opts *ConnectionHandlerOptions) *ConnectionHandler {
	if opts == nil {
		opts = &ConnectionHandlerOptions{}
	}

	transform := opts.Transform
	if transform == nil {
		transform = IdentityTransform
	}

	logger := connLogger(opts.Logger, opts.ID, zap.Stringer("direction", opts.Direction))

	h := &ConnectionHandler{
		id:           opts.ID,
		remoteAddr:   opts.RemoteAddr,
		direction:    opts.Direction,
		transform:    transform,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		logger:       logger,
		src:          src,
		dst:          dst,
		reader: memdx.PacketReader{
			ReadSize:      opts.ReadBufferSize,
			MaxBodyLength: opts.MaxBodyLength,
		},
		attribs: newFrameAttribs(opts.Direction),
	}
	h.state.Store(uint32(ConnStateAwaitingFrame))

	return h
}

func (h *ConnectionHandler) State() ConnState {
	return ConnState(h.state.Load())
}

// FramesRelayed returns how many frames have been written to the destination.
func (h *ConnectionHandler) FramesRelayed() uint64 {
	return h.framesRelayed.Load()
}

func (h *ConnectionHandler) setState(state ConnState) {
	h.state.Store(uint32(state))
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Run relays frames until the stream ends or fails.  It returns nil when the
// source closes cleanly between frames, ctx.Err() when the relay was
// cancelled, and otherwise the error that terminated it: a
// *memdx.FramingError, a TransportError or a TransformError.
func (h *ConnectionHandler) Run(ctx context.Context) error {
	defer h.reader.Release()

	ctx = contextWithConnInfo(ctx, ConnInfo{
		ID:         h.id,
		RemoteAddr: h.remoteAddr,
		Direction:  h.direction,
	})

	for {
		h.setState(ConnStateAwaitingFrame)

		deadlineErr := h.armReadDeadline()
		if deadlineErr != nil && ctx.Err() != nil {
			return h.cancelled(ctx)
		}

		// a socket the peer has already closed can refuse a deadline, in
		// which case the read reports how the stream ended.
		pak, err := h.reader.ReadPacket(h.src)
		if err != nil {
			return h.handleReadError(ctx, err)
		}
		if deadlineErr != nil {
			return h.fail(TransportError{Cause: deadlineErr})
		}

		h.setState(ConnStateDecoded)

		if enablePacketLogging {
			h.logger.Debug("read packet", zaputils.Packet("packet", pak))
		}

		out, err := h.transform(ctx, pak)
		if err != nil {
			return h.fail(TransformError{Cause: err})
		}
		if out == nil {
			h.logger.Debug("transform dropped packet",
				zaputils.PacketSummary("packet", pak),
				zaputils.Key("key", pak.Key))
			continue
		}

		if err := h.armWriteDeadline(); err != nil {
			if ctx.Err() != nil {
				return h.cancelled(ctx)
			}
			return h.fail(TransportError{Cause: err})
		}

		err = h.writer.WritePacket(h.dst, out)
		if err != nil {
			if memdx.IsFramingError(err) {
				// the transform produced a packet whose header does not
				// describe its segments.
				return h.fail(TransformError{Cause: err})
			}
			if ctx.Err() != nil {
				return h.cancelled(ctx)
			}
			return h.fail(TransportError{Cause: err})
		}

		h.framesRelayed.Inc()
		framesRelayed.Add(ctx, 1, h.attribs.get(out.OpCode))
		h.setState(ConnStateForwarded)
	}
}

func (h *ConnectionHandler) handleReadError(ctx context.Context, err error) error {
	if errors.Is(err, io.EOF) {
		h.logger.Debug("source closed")
		h.setState(ConnStateClosed)
		return nil
	}

	if ctx.Err() != nil {
		return h.cancelled(ctx)
	}

	if memdx.IsFramingError(err) {
		framingErrors.Add(ctx, 1)
		return h.fail(err)
	}

	return h.fail(TransportError{Cause: err})
}

func (h *ConnectionHandler) cancelled(ctx context.Context) error {
	h.setState(ConnStateClosed)
	return ctx.Err()
}

func (h *ConnectionHandler) fail(err error) error {
	h.logger.Debug("handler failed",
		zap.Error(err),
		zap.Int("buffered", h.reader.Buffered()),
		zap.Uint64("framesRelayed", h.framesRelayed.Load()))
	h.setState(ConnStateFailed)
	return err
}

func (h *ConnectionHandler) armReadDeadline() error {
	conn, ok := h.src.(readDeadliner)
	if !ok || h.readTimeout <= 0 {
		return nil
	}
	return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
}

func (h *ConnectionHandler) armWriteDeadline() error {
	conn, ok := h.dst.(writeDeadliner)
	if !ok || h.writeTimeout <= 0 {
		return nil
	}
	return conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
}
