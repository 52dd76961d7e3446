package leakcheck

import (
	"log"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"
)

var connTrackingEnabled uint32 = 0
var trackedConnsLock sync.Mutex
var trackedConns []*leakTrackingConn

func EnableConnTracking() {
	atomic.StoreUint32(&connTrackingEnabled, 1)
}

// WrapConn records conn until it is closed, so sockets left half-open by a
// test can be reported once the test binary finishes.
func WrapConn(conn net.Conn) net.Conn {
	if atomic.LoadUint32(&connTrackingEnabled) == 0 {
		return conn
	}

	trackingConn := &leakTrackingConn{
		Conn:       conn,
		stackTrace: debug.Stack(),
	}

	trackedConnsLock.Lock()
	trackedConns = append(trackedConns, trackingConn)
	trackedConnsLock.Unlock()

	return trackingConn
}

func removeTrackedConnRecord(l *leakTrackingConn) {
	trackedConnsLock.Lock()
	recordIdx := slices.Index(trackedConns, l)
	if recordIdx >= 0 {
		trackedConns = append(trackedConns[:recordIdx], trackedConns[recordIdx+1:]...)
	}
	trackedConnsLock.Unlock()
}

func numTrackedConns() int {
	trackedConnsLock.Lock()
	defer trackedConnsLock.Unlock()
	return len(trackedConns)
}

// ReportLeakedConns gives connections up to a second to be closed.
func ReportLeakedConns() bool {
	start := time.Now()
	for time.Since(start) <= 1*time.Second && numTrackedConns() > 0 {
		time.Sleep(10 * time.Millisecond)
	}

	trackedConnsLock.Lock()
	defer trackedConnsLock.Unlock()

	if len(trackedConns) == 0 {
		log.Printf("No leaked connections")
		return true
	}

	log.Printf("Found %d leaked connections", len(trackedConns))
	for _, leakRecord := range trackedConns {
		log.Printf("Leaked connection stack: %s", leakRecord.stackTrace)
	}

	return false
}

type leakTrackingConn struct {
	net.Conn
	closeOnce  sync.Once
	stackTrace []byte
}

func (l *leakTrackingConn) Close() error {
	l.closeOnce.Do(func() {
		removeTrackedConnRecord(l)
	})
	return l.Conn.Close()
}

var _ net.Conn = (*leakTrackingConn)(nil)
