package memdx

// HeaderLen is the size of the fixed packet header.
const HeaderLen = 24

// Packet is a single decoded memcached binary packet.  Extras, Key and Value
// reference the buffer the packet was decoded from; they are never copied
// and the decoder never writes to them again.
type Packet struct {
	Magic           Magic
	OpCode          OpCode
	KeyLength       uint16
	ExtrasLength    uint8
	Datatype        uint8
	VbucketOrStatus uint16
	TotalBodyLength uint32
	Opaque          uint32
	Cas             uint64
	Extras          []byte
	Key             []byte
	Value           []byte
}

// VbucketID is only meaningful for request packets.
func (pak *Packet) VbucketID() uint16 {
	return pak.VbucketOrStatus
}

// Status is only meaningful for response packets.
func (pak *Packet) Status() Status {
	return Status(pak.VbucketOrStatus)
}

// DatatypeFlags returns the datatype byte as flags.
func (pak *Packet) DatatypeFlags() DatatypeFlag {
	return DatatypeFlag(pak.Datatype)
}

// ValueLength computes the value length from the header's length fields.
// An inconsistent header yields 0 rather than an underflowed length.
func (pak *Packet) ValueLength() uint32 {
	prefixLen := uint32(pak.ExtrasLength) + uint32(pak.KeyLength)
	if prefixLen > pak.TotalBodyLength {
		return 0
	}
	return pak.TotalBodyLength - prefixLen
}

// SetBody replaces the extras, key and value segments and recomputes every
// length field so the packet stays consistent.
func (pak *Packet) SetBody(extras, key, value []byte) error {
	if len(extras) > 0xff {
		return &FramingError{Field: "extras_length", Value: uint64(len(extras)), Reason: "extras too long to encode"}
	}
	if len(key) > 0xffff {
		return &FramingError{Field: "key_length", Value: uint64(len(key)), Reason: "key too long to encode"}
	}
	bodyLen := uint64(len(extras)) + uint64(len(key)) + uint64(len(value))
	if bodyLen > 0xffffffff {
		return &FramingError{Field: "total_body_length", Value: bodyLen, Reason: "packet too long to encode"}
	}

	pak.Extras = extras
	pak.Key = key
	pak.Value = value
	pak.ExtrasLength = uint8(len(extras))
	pak.KeyLength = uint16(len(key))
	pak.TotalBodyLength = uint32(bodyLen)
	return nil
}

// Validate checks that the magic and opcode are known and that the header's
// length fields describe the attached segments exactly.
func (pak *Packet) Validate() error {
	if _, err := ParseMagic(byte(pak.Magic)); err != nil {
		return err
	}
	if _, err := ParseOpCode(byte(pak.OpCode)); err != nil {
		return err
	}

	if int(pak.ExtrasLength) != len(pak.Extras) {
		return &FramingError{Field: "extras_length", Value: uint64(pak.ExtrasLength), Reason: "extras length does not match extras"}
	}
	if int(pak.KeyLength) != len(pak.Key) {
		return &FramingError{Field: "key_length", Value: uint64(pak.KeyLength), Reason: "key length does not match key"}
	}
	if uint64(pak.TotalBodyLength) != uint64(len(pak.Extras))+uint64(len(pak.Key))+uint64(len(pak.Value)) {
		return &FramingError{Field: "total_body_length", Value: uint64(pak.TotalBodyLength), Reason: "body length does not match segments"}
	}

	return nil
}
