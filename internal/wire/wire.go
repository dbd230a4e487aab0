// Package wire defines the handshake line and per-chunk record layout
// shared by the sender and the receiver.
package wire

import (
	"bufio"
	"io"

	"github.com/distr1/lvmsync/internal/netorder"
	"golang.org/x/xerrors"
)

// ProtocolVersion is the handshake line written by the sender before any
// chunk data, and the literal (sans trailing newline) written at the start
// of a snapback file.
const ProtocolVersion = "lvmsync PROTO[2]"

// headerSize is the wire size of RecordHeader: 8 bytes origin offset + 4
// bytes chunksize, no padding.
const headerSize = 12

// ErrHandshakeMismatch is returned when the peer's handshake line does not
// equal ProtocolVersion.
type ErrHandshakeMismatch struct {
	Got string
}

func (e *ErrHandshakeMismatch) Error() string {
	return xerrors.Errorf("handshake failed; protocol mismatch? (saw %q, want %q)", e.Got, ProtocolVersion).Error()
}

// ErrTruncatedHeader is returned when a short (1-11 byte) record header is
// read; a clean 0-byte read is end-of-stream, not an error.
type ErrTruncatedHeader struct {
	N int
}

func (e *ErrTruncatedHeader) Error() string {
	return xerrors.Errorf("truncated record header: read %d of %d bytes", e.N, headerSize).Error()
}

// RecordHeader is the 12-byte header preceding every chunk payload on the
// wire: origin_offset (u64, network order) followed by chunksize (u32,
// network order). Both fields always go through a true network-order
// encode/decode, never a host-order passthrough.
type RecordHeader struct {
	OriginOffset uint64
	ChunkSize    uint32
}

// WriteHandshake writes the protocol-version line, terminated by \n, to w.
// This is the network form; see WriteSnapbackHandshake for the
// snapback-file form.
func WriteHandshake(w io.Writer) error {
	_, err := io.WriteString(w, ProtocolVersion+"\n")
	if err != nil {
		return xerrors.Errorf("writing handshake: %w", err)
	}
	return nil
}

// WriteSnapbackHandshake writes the bare protocol-version literal, with
// no trailing newline, as the first bytes of a snapback file.
func WriteSnapbackHandshake(w io.Writer) error {
	_, err := io.WriteString(w, ProtocolVersion)
	if err != nil {
		return xerrors.Errorf("writing snapback handshake: %w", err)
	}
	return nil
}

// ReadHandshake reads exactly len(ProtocolVersion) bytes from r and
// verifies they match, then consumes one trailing \n if present. Reading
// a fixed-length prefix rather than scanning for a delimiter is what
// lets this accept both the network form (ProtocolVersion + "\n") and
// the snapback-file form (ProtocolVersion with no trailing newline)
// without risking a stray 0x0A byte inside the binary data that follows
// being mistaken for the line ending.
func ReadHandshake(r *bufio.Reader) error {
	buf := make([]byte, len(ProtocolVersion))
	if _, err := io.ReadFull(r, buf); err != nil {
		return xerrors.Errorf("reading handshake: %w", err)
	}
	got := string(buf)
	if got != ProtocolVersion {
		return &ErrHandshakeMismatch{Got: got}
	}
	if b, err := r.Peek(1); err == nil && b[0] == '\n' {
		r.Discard(1)
	}
	return nil
}

// Encode serializes h as its 12-byte wire form.
func (h RecordHeader) Encode() []byte {
	buf := make([]byte, 0, headerSize)
	buf = append(buf, netorder.ToNetworkUint64(h.OriginOffset)...)
	buf = append(buf, netorder.ToNetworkUint32(h.ChunkSize)...)
	return buf
}

// DecodeRecordHeader parses a 12-byte wire header. b must be exactly
// headerSize bytes (callers read exactly that many before calling this).
func DecodeRecordHeader(b []byte) RecordHeader {
	return RecordHeader{
		OriginOffset: netorder.FromNetworkUint64(b[0:8]),
		ChunkSize:    netorder.FromNetworkUint32(b[8:12]),
	}
}

// ReadRecordHeader reads one 12-byte record header from r.
//
// A clean 0-byte read (io.EOF before any bytes) returns io.EOF, signalling
// the end of the stream. A short read of 1-11 bytes is fatal and returns
// *ErrTruncatedHeader.
func ReadRecordHeader(r io.Reader) (RecordHeader, error) {
	buf := make([]byte, headerSize)
	n, err := io.ReadFull(r, buf)
	if n == 0 && err == io.EOF {
		return RecordHeader{}, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return RecordHeader{}, &ErrTruncatedHeader{N: n}
	}
	if err != nil {
		return RecordHeader{}, xerrors.Errorf("reading record header: %w", err)
	}
	return DecodeRecordHeader(buf), nil
}

// WriteRecord emits one wire record: the 12-byte header followed by
// payload verbatim. len(payload) must equal int(h.ChunkSize); the caller
// (internal/sender) is responsible for reading exactly ChunkSize bytes
// from the origin device beforehand.
func WriteRecord(w io.Writer, h RecordHeader, payload []byte) error {
	if _, err := w.Write(h.Encode()); err != nil {
		return xerrors.Errorf("writing record header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return xerrors.Errorf("writing record payload: %w", err)
	}
	return nil
}
