package memdproxy

import (
	"os"

	"github.com/couchbaselabs/memdproxy/zaputils"
	"go.uber.org/zap"
)

// enablePacketLogging dumps every decoded packet at debug level.
var enablePacketLogging bool = os.Getenv("MEMDPROXY_PACKET_LOGGING") != ""

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func connLogger(logger *zap.Logger, id string, fields ...zap.Field) *zap.Logger {
	return loggerOrNop(logger).With(append([]zap.Field{zaputils.ConnID("connId", id)}, fields...)...)
}
