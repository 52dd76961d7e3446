package memdproxy

// ConnState is the state of a ConnectionHandler.
type ConnState uint32

const (
	ConnStateAwaitingFrame ConnState = iota
	ConnStateDecoded
	ConnStateForwarded
	ConnStateClosed
	ConnStateFailed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateAwaitingFrame:
		return "awaiting-frame"
	case ConnStateDecoded:
		return "decoded"
	case ConnStateForwarded:
		return "forwarded"
	case ConnStateClosed:
		return "closed"
	case ConnStateFailed:
		return "failed"
	}
	return "unknown"
}

// IsTerminal reports whether no more frames will be handled.
func (s ConnState) IsTerminal() bool {
	return s == ConnStateClosed || s == ConnStateFailed
}

// Direction is the way frames flow through a ConnectionHandler.
type Direction uint8

const (
	// DirectionUpstream carries requests from the client to the backend.
	DirectionUpstream Direction = iota

	// DirectionDownstream carries responses from the backend to the client.
	DirectionDownstream

	// DirectionEcho reads from and writes back to the client.
	DirectionEcho
)

func (d Direction) String() string {
	switch d {
	case DirectionUpstream:
		return "upstream"
	case DirectionDownstream:
		return "downstream"
	case DirectionEcho:
		return "echo"
	}
	return "unknown"
}
