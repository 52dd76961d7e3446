package zaputils

import (
	"net"

	"github.com/couchbaselabs/memdproxy/memdx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func ConnID(key string, val string) zap.Field {
	return zap.String(key, val)
}

func Addr(key string, addr net.Addr) zap.Field {
	if addr == nil {
		return zap.Skip()
	}
	return zap.String(key, addr.String())
}

func Key(key string, val []byte) zap.Field {
	return zap.String(key, string(val))
}

type loggablePacket struct {
	pak *memdx.Packet
}

func (p loggablePacket) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	pak := p.pak
	enc.AddString("magic", pak.Magic.String())
	enc.AddString("opcode", pak.OpCode.String())
	enc.AddUint8("datatype", pak.Datatype)
	if pak.Magic.IsResponse() {
		enc.AddString("status", pak.Status().String())
	} else {
		enc.AddUint16("vbucketID", pak.VbucketID())
	}
	enc.AddUint32("opaque", pak.Opaque)
	enc.AddUint64("cas", pak.Cas)
	enc.AddBinary("extras", pak.Extras)
	enc.AddBinary("key", pak.Key)
	enc.AddBinary("value", pak.Value)
	return nil
}

// Packet logs every header field and segment of pak.
func Packet(key string, pak *memdx.Packet) zap.Field {
	if pak == nil {
		return zap.Skip()
	}
	return zap.Object(key, loggablePacket{pak: pak})
}

// PacketSummary logs just enough of pak to correlate it with its peer.
func PacketSummary(key string, pak *memdx.Packet) zap.Field {
	if pak == nil {
		return zap.Skip()
	}
	return zap.Object(key, zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("opcode", pak.OpCode.String())
		enc.AddUint32("opaque", pak.Opaque)
		enc.AddUint32("bodyLen", pak.TotalBodyLength)
		return nil
	}))
}
