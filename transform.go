package memdproxy

import (
	"context"

	"github.com/couchbaselabs/memdproxy/memdx"
)

// Transform rewrites a decoded packet before it is forwarded.  It must not
// retain pak beyond the call or depend on state shared with other
// connections.  Returning a nil packet and a nil error drops the packet.
type Transform func(ctx context.Context, pak *memdx.Packet) (*memdx.Packet, error)

// IdentityTransform forwards packets unchanged.
func IdentityTransform(ctx context.Context, pak *memdx.Packet) (*memdx.Packet, error) {
	return pak, nil
}

// ChainTransforms applies transforms in order.  The chain stops as soon as
// one of them fails or drops the packet.
func ChainTransforms(transforms ...Transform) Transform {
	return func(ctx context.Context, pak *memdx.Packet) (*memdx.Packet, error) {
		var err error
		for _, transform := range transforms {
			pak, err = transform(ctx, pak)
			if err != nil || pak == nil {
				return nil, err
			}
		}
		return pak, nil
	}
}

// EchoTransform answers every request with an empty success response that
// keeps the request's opcode, opaque and cas.  Responses are forwarded
// unchanged.
func EchoTransform(ctx context.Context, pak *memdx.Packet) (*memdx.Packet, error) {
	if !pak.Magic.IsRequest() {
		return pak, nil
	}

	res := &memdx.Packet{
		Magic:           memdx.MagicRes,
		OpCode:          pak.OpCode,
		VbucketOrStatus: uint16(memdx.StatusSuccess),
		Opaque:          pak.Opaque,
		Cas:             pak.Cas,
	}
	return res, nil
}

type connInfoCtxKey struct{}

// ConnInfo identifies the connection and direction a transform runs for.
type ConnInfo struct {
	ID         string
	RemoteAddr string
	Direction  Direction
}

func contextWithConnInfo(ctx context.Context, info ConnInfo) context.Context {
	return context.WithValue(ctx, connInfoCtxKey{}, info)
}

// ConnInfoFromContext returns the connection a transform is running for.
func ConnInfoFromContext(ctx context.Context) (ConnInfo, bool) {
	info, ok := ctx.Value(connInfoCtxKey{}).(ConnInfo)
	return info, ok
}
