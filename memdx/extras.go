package memdx

import "encoding/binary"

// StoreExtras are the extras carried by SET/ADD/REPLACE and their quiet
// variants.
type StoreExtras struct {
	Flags  uint32
	Expiry uint32
}

const storeExtrasLen = 8

func (e StoreExtras) Encode() []byte {
	buf := make([]byte, storeExtrasLen)
	binary.BigEndian.PutUint32(buf[0:], e.Flags)
	binary.BigEndian.PutUint32(buf[4:], e.Expiry)
	return buf
}

func DecodeStoreExtras(extras []byte) (StoreExtras, error) {
	if len(extras) != storeExtrasLen {
		return StoreExtras{}, &FramingError{
			Field:  "extras_length",
			Value:  uint64(len(extras)),
			Reason: "store extras must be 8 bytes",
		}
	}

	return StoreExtras{
		Flags:  binary.BigEndian.Uint32(extras[0:]),
		Expiry: binary.BigEndian.Uint32(extras[4:]),
	}, nil
}

// CounterExtras are the extras carried by INCREMENT/DECREMENT and their
// quiet variants.
type CounterExtras struct {
	Delta   uint64
	Initial uint64
	Expiry  uint32
}

const counterExtrasLen = 20

func (e CounterExtras) Encode() []byte {
	buf := make([]byte, counterExtrasLen)
	binary.BigEndian.PutUint64(buf[0:], e.Delta)
	binary.BigEndian.PutUint64(buf[8:], e.Initial)
	binary.BigEndian.PutUint32(buf[16:], e.Expiry)
	return buf
}

func DecodeCounterExtras(extras []byte) (CounterExtras, error) {
	if len(extras) != counterExtrasLen {
		return CounterExtras{}, &FramingError{
			Field:  "extras_length",
			Value:  uint64(len(extras)),
			Reason: "counter extras must be 20 bytes",
		}
	}

	return CounterExtras{
		Delta:   binary.BigEndian.Uint64(extras[0:]),
		Initial: binary.BigEndian.Uint64(extras[8:]),
		Expiry:  binary.BigEndian.Uint32(extras[16:]),
	}, nil
}
