package memdproxy

import (
	"net"
	"sync"
	"testing"

	"github.com/couchbaselabs/memdproxy/contrib/leakcheck"
	"github.com/couchbaselabs/memdproxy/memdx"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a tiny memcached binary server.  GET answers with
// "value-of-<key>", QUIT closes the connection, and everything else gets an
// empty success response.
type fakeBackend struct {
	listener net.Listener
	closed   chan string

	lock  sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

func startFakeBackend(t *testing.T) *fakeBackend {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &fakeBackend{
		listener: listener,
		closed:   make(chan string, 64),
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn = leakcheck.WrapConn(conn)

			b.lock.Lock()
			b.conns = append(b.conns, conn)
			b.lock.Unlock()

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.serve(conn)
			}()
		}
	}()

	t.Cleanup(b.stop)
	return b
}

func (b *fakeBackend) Addr() string {
	return b.listener.Addr().String()
}

func (b *fakeBackend) serve(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		select {
		case b.closed <- conn.RemoteAddr().String():
		default:
		}
	}()

	var pr memdx.PacketReader
	var pw memdx.PacketWriter
	for {
		req, err := pr.ReadPacket(conn)
		if err != nil {
			return
		}

		if req.OpCode == memdx.OpCodeQuit {
			return
		}

		res := &memdx.Packet{
			Magic:  memdx.MagicRes,
			OpCode: req.OpCode,
			Opaque: req.Opaque,
			Cas:    req.Cas,
		}
		if req.OpCode == memdx.OpCodeGet {
			value := append([]byte("value-of-"), req.Key...)
			_ = res.SetBody(nil, nil, value)
		}

		if err := pw.WritePacket(conn, res); err != nil {
			return
		}
	}
}

func (b *fakeBackend) stop() {
	_ = b.listener.Close()

	b.lock.Lock()
	for _, conn := range b.conns {
		_ = conn.Close()
	}
	b.lock.Unlock()

	b.wg.Wait()
}
