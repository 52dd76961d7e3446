package memdx

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Buffer accumulates bytes read from a stream until they form whole frames.
// Consumed bytes are dropped by reslicing past them and are never written
// again, which is what keeps the segments of decoded packets stable.
type Buffer struct {
	data []byte
}

// Len returns the number of buffered, not yet decoded, bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the buffered bytes.  The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Write appends p to the buffer.  It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Grow makes sure at least n more bytes can be appended without another
// allocation.
func (b *Buffer) Grow(n int) {
	if n <= 0 || cap(b.data)-len(b.data) >= n {
		return
	}

	// grow geometrically so a large frame arriving in small segments does
	// not reallocate on every read.
	newCap := 2 * cap(b.data)
	if newCap < len(b.data)+n {
		newCap = len(b.data) + n
	}

	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// Fill performs a single Read from r into the free space of the buffer,
// first making room for at least minRead bytes.
func (b *Buffer) Fill(r io.Reader, minRead int) (int, error) {
	b.Grow(minRead)

	n, err := r.Read(b.data[len(b.data):cap(b.data)])
	if n < 0 || n > cap(b.data)-len(b.data) {
		return 0, fmt.Errorf("invalid read count %d", n)
	}
	b.data = b.data[:len(b.data)+n]
	return n, err
}

func (b *Buffer) discard(n int) {
	b.data = b.data[n:]
}

// Decode attempts to decode one packet from the front of buf.
//
// It returns a nil packet and a nil error when buf does not yet hold a whole
// frame; buf is left untouched in that case and the call may simply be
// repeated once more bytes are available.  On success the frame is removed
// from buf and the number of consumed bytes is returned alongside the packet.
// On a *FramingError buf is left untouched.
func Decode(buf *Buffer) (*Packet, int, error) {
	pak, n, err := DecodePacket(buf.data)
	if err != nil || pak == nil {
		return nil, 0, err
	}

	buf.discard(n)
	return pak, n, nil
}

// DecodePacket decodes one packet from the front of data without consuming
// it.  The returned packet's segments are sub-slices of data.
func DecodePacket(data []byte) (*Packet, int, error) {
	if len(data) < HeaderLen {
		return nil, 0, nil
	}

	// peek the body length so we know whether the whole frame is present
	// before anything is consumed.
	totalBodyLen := binary.BigEndian.Uint32(data[8:12])
	frameLen := uint64(HeaderLen) + uint64(totalBodyLen)
	if uint64(len(data)) < frameLen {
		return nil, 0, nil
	}
	frame := data[:frameLen]

	magic, err := ParseMagic(frame[0])
	if err != nil {
		return nil, 0, err
	}

	opCode, err := ParseOpCode(frame[1])
	if err != nil {
		return nil, 0, err
	}

	keyLen := binary.BigEndian.Uint16(frame[2:4])
	extrasLen := frame[4]
	datatype := frame[5]
	vbucketOrStatus := binary.BigEndian.Uint16(frame[6:8])
	opaque := binary.BigEndian.Uint32(frame[12:16])
	cas := binary.BigEndian.Uint64(frame[16:24])

	prefixLen := uint32(extrasLen) + uint32(keyLen)
	if prefixLen > totalBodyLen {
		return nil, 0, &FramingError{
			Field:  "total_body_length",
			Value:  uint64(totalBodyLen),
			Reason: fmt.Sprintf("extras (%d) and key (%d) exceed body length", extrasLen, keyLen),
		}
	}
	valueLen := totalBodyLen - prefixLen

	pos := uint64(HeaderLen)
	extras := sliceSegment(frame, &pos, uint64(extrasLen))
	key := sliceSegment(frame, &pos, uint64(keyLen))
	value := sliceSegment(frame, &pos, uint64(valueLen))

	return &Packet{
		Magic:           magic,
		OpCode:          opCode,
		KeyLength:       keyLen,
		ExtrasLength:    extrasLen,
		Datatype:        datatype,
		VbucketOrStatus: vbucketOrStatus,
		TotalBodyLength: totalBodyLen,
		Opaque:          opaque,
		Cas:             cas,
		Extras:          extras,
		Key:             key,
		Value:           value,
	}, int(frameLen), nil
}

// sliceSegment returns frame[pos:pos+n] with its capacity clipped, so that
// appending to a segment can never overwrite the bytes which follow it.
func sliceSegment(frame []byte, pos *uint64, n uint64) []byte {
	start := *pos
	end := start + n
	*pos = end
	return frame[start:end:end]
}

// Encode serializes pak into a newly allocated byte slice.
func Encode(pak *Packet) ([]byte, error) {
	return AppendPacket(nil, pak)
}

// AppendPacket appends the wire form of pak to dst.  It fails only if the
// packet's header does not describe its segments.
func AppendPacket(dst []byte, pak *Packet) ([]byte, error) {
	if err := pak.Validate(); err != nil {
		return dst, err
	}

	frameLen := HeaderLen + int(pak.TotalBodyLength)
	if cap(dst)-len(dst) < frameLen {
		grown := make([]byte, len(dst), len(dst)+frameLen)
		copy(grown, dst)
		dst = grown
	}

	dst = append(dst, byte(pak.Magic), byte(pak.OpCode))
	dst = binary.BigEndian.AppendUint16(dst, pak.KeyLength)
	dst = append(dst, pak.ExtrasLength, pak.Datatype)
	dst = binary.BigEndian.AppendUint16(dst, pak.VbucketOrStatus)
	dst = binary.BigEndian.AppendUint32(dst, pak.TotalBodyLength)
	dst = binary.BigEndian.AppendUint32(dst, pak.Opaque)
	dst = binary.BigEndian.AppendUint64(dst, pak.Cas)

	if pak.ExtrasLength > 0 {
		dst = append(dst, pak.Extras...)
	}
	if pak.KeyLength > 0 {
		dst = append(dst, pak.Key...)
	}
	if pak.ValueLength() > 0 {
		dst = append(dst, pak.Value...)
	}

	return dst, nil
}
