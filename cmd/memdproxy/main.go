// Command memdproxy relays memcached binary protocol connections to a
// backend server, decoding and re-encoding every frame on the way.
//
// Usage:
//
//	memdproxy [listen-address] [backend-address]
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchbaselabs/memdproxy"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	listenAddr := memdproxy.DefaultListenAddress
	if len(args) > 0 {
		listenAddr = args[0]
	}
	backendAddr := memdproxy.DefaultBackendAddress
	if len(args) > 1 {
		backendAddr = args[1]
	}

	logger.Info("starting proxy",
		zap.String("listen", listenAddr),
		zap.String("backend", backendAddr))

	proxy, err := memdproxy.NewProxyListener(memdproxy.Config{
		ListenAddress:  listenAddr,
		BackendAddress: backendAddr,
		Logger:         logger,
	}, nil)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 1
	}

	if err := proxy.Listen(); err != nil {
		logger.Error("failed to bind listen address", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := proxy.Serve(ctx); err != nil {
		logger.Error("proxy stopped", zap.Error(err))
		return 1
	}

	logger.Info("proxy stopped")
	return 0
}
