package memdx

import (
	"encoding/binary"
	"errors"
	"io"
)

// DefaultReadSize is the minimum free buffer space requested before each
// read when PacketReader.ReadSize is unset.
const DefaultReadSize = 16 * 1024

// maxEmptyReads mirrors bufio's tolerance for readers which return 0, nil.
const maxEmptyReads = 100

// PacketReader turns a byte stream into packets.  Each reader owns a private
// Buffer, so it must not be shared between streams.
type PacketReader struct {
	// ReadSize is the minimum free space made available for each read.
	ReadSize int

	// MaxBodyLength rejects frames declaring a larger body before any of the
	// body is buffered.  Zero disables the check.
	MaxBodyLength uint32

	buf Buffer
	err error
}

// Buffered returns the number of bytes read from the stream but not yet
// returned as part of a packet.
func (pr *PacketReader) Buffered() int {
	return pr.buf.Len()
}

// ReadPacket reads from r until a whole packet is buffered and returns it.
//
// It returns io.EOF once the stream ends cleanly between frames, and
// io.ErrUnexpectedEOF when it ends in the middle of one.  A *FramingError
// means the stream can no longer be decoded.  Any other error is the error
// returned by r.  Packets already buffered are always returned before a read
// error is reported.
func (pr *PacketReader) ReadPacket(r io.Reader) (*Packet, error) {
	readSize := pr.ReadSize
	if readSize <= 0 {
		readSize = DefaultReadSize
	}

	emptyReads := 0
	for {
		if err := pr.checkBodyLength(); err != nil {
			return nil, err
		}

		pak, _, err := Decode(&pr.buf)
		if err != nil {
			return nil, err
		}
		if pak != nil {
			return pak, nil
		}

		if pr.err != nil {
			if errors.Is(pr.err, io.EOF) && pr.buf.Len() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, pr.err
		}

		n, err := pr.buf.Fill(r, readSize)
		if err != nil {
			pr.err = err
			continue
		}

		if n == 0 {
			emptyReads++
			if emptyReads >= maxEmptyReads {
				return nil, io.ErrNoProgress
			}
		} else {
			emptyReads = 0
		}
	}
}

// checkBodyLength applies MaxBodyLength to the frame at the front of the
// buffer as soon as its header is available, whether or not the rest of the
// frame has arrived.
func (pr *PacketReader) checkBodyLength() error {
	data := pr.buf.Bytes()
	if pr.MaxBodyLength == 0 || len(data) < HeaderLen {
		return nil
	}

	bodyLen := binary.BigEndian.Uint32(data[8:12])
	if bodyLen > pr.MaxBodyLength {
		return &FramingError{
			Field:  "total_body_length",
			Value:  uint64(bodyLen),
			Reason: "body length exceeds limit",
		}
	}
	return nil
}

// Release drops the buffered bytes and any sticky read error.
func (pr *PacketReader) Release() {
	pr.buf = Buffer{}
	pr.err = nil
}
