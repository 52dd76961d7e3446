package memdproxy

import (
	"context"
	"errors"

	"github.com/couchbaselabs/memdproxy/memdx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(buildVersion))

	tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(buildVersion))
)

const instrumentationName = "github.com/couchbaselabs/memdproxy"

func connTracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		return tracer
	}
	return provider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(buildVersion))
}

var (
	// connectionsAccepted tracks every client connection handed to a relay.
	connectionsAccepted, _ = meter.Int64Counter("memdproxy.connections.accepted")

	// connectionsActive tracks client connections currently being relayed.
	connectionsActive, _ = meter.Int64UpDownCounter("memdproxy.connections.active")

	// connectionsFailed tracks connections which ended with an error, by kind.
	connectionsFailed, _ = meter.Int64Counter("memdproxy.connections.failed")

	// framesRelayed tracks frames written to their destination, by direction and opcode.
	framesRelayed, _ = meter.Int64Counter("memdproxy.frames.relayed")

	// framingErrors tracks streams which could not be decoded.
	framingErrors, _ = meter.Int64Counter("memdproxy.framing_errors")
)

// errorKind classifies a connection error for metrics and logs.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTransform):
		return "transform"
	case memdx.IsFramingError(err):
		return "framing"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrTooManyConnections):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "other"
}

func recordConnFailure(ctx context.Context, err error) {
	connectionsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.kind", errorKind(err))))
}

// frameAttribs caches the attribute sets used for framesRelayed so the hot
// path does not rebuild them for every frame.  It is owned by a single
// handler and not safe for concurrent use.
type frameAttribs struct {
	direction Direction
	sets      map[memdx.OpCode]metric.AddOption
}

func newFrameAttribs(direction Direction) *frameAttribs {
	return &frameAttribs{
		direction: direction,
		sets:      make(map[memdx.OpCode]metric.AddOption),
	}
}

func (a *frameAttribs) get(opCode memdx.OpCode) metric.AddOption {
	opt, ok := a.sets[opCode]
	if !ok {
		opt = metric.WithAttributeSet(attribute.NewSet(
			attribute.String("direction", a.direction.String()),
			attribute.String("opcode", opCode.String()),
		))
		a.sets[opCode] = opt
	}
	return opt
}
