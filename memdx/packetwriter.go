package memdx

import "io"

// PacketWriter encodes packets into a reusable buffer and writes each one
// completely before returning.
type PacketWriter struct {
	writeBuf []byte
}

func (pw *PacketWriter) WritePacket(w io.Writer, pak *Packet) error {
	buf, err := AppendPacket(pw.writeBuf[:0], pak)
	if err != nil {
		return err
	}
	pw.writeBuf = buf

	return writeFull(w, buf)
}

// writeFull keeps writing until buf is drained, so a frame is never left
// half-written when the next one is read.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}
