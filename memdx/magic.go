package memdx

import "encoding/hex"

type Magic uint8

const (
	// MagicReq indicates that the packet is a request.
	MagicReq = Magic(0x80)

	// MagicRes indicates that the packet is a response.
	MagicRes = Magic(0x81)
)

// ParseMagic maps a wire byte onto the closed set of known magics.
func ParseMagic(b byte) (Magic, error) {
	switch Magic(b) {
	case MagicReq, MagicRes:
		return Magic(b), nil
	}

	return 0, &FramingError{
		Field:  "magic",
		Value:  uint64(b),
		Reason: "invalid magic",
	}
}

func (m Magic) IsRequest() bool {
	return m == MagicReq
}

func (m Magic) IsResponse() bool {
	return m == MagicRes
}

func (m Magic) String() string {
	switch m {
	case MagicReq:
		return "Req"
	case MagicRes:
		return "Res"
	default:
		return "x" + hex.EncodeToString([]byte{byte(m)})
	}
}
