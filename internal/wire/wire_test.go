package wire

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecordHeaderEncodeDecode(t *testing.T) {
	// origin=3, chunksize=512 (0x200) encodes as
	// 00 00 00 00 00 00 00 03 00 00 02 00.
	h := RecordHeader{OriginOffset: 3, ChunkSize: 512}
	got := h.Encode()
	want := []byte{0, 0, 0, 0, 0, 0, 0, 3, 0, 0, 2, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = % x, want % x", got, want)
	}
	if diff := cmp.Diff(h, DecodeRecordHeader(got)); diff != "" {
		t.Errorf("DecodeRecordHeader round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRecordHeaderCleanEOF(t *testing.T) {
	_, err := ReadRecordHeader(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("ReadRecordHeader(empty) = %v, want io.EOF", err)
	}
}

func TestReadRecordHeaderTruncated(t *testing.T) {
	_, err := ReadRecordHeader(bytes.NewReader([]byte{1, 2, 3}))
	te, ok := err.(*ErrTruncatedHeader)
	if !ok {
		t.Fatalf("ReadRecordHeader(3 bytes) error = %v (%T), want *ErrTruncatedHeader", err, err)
	}
	if te.N != 3 {
		t.Errorf("ErrTruncatedHeader.N = %d, want 3", te.N)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHandshake(&buf); err != nil {
		t.Fatal(err)
	}
	if err := ReadHandshake(bufio.NewReader(&buf)); err != nil {
		t.Fatalf("ReadHandshake() = %v, want nil", err)
	}
}

func TestHandshakeMismatch(t *testing.T) {
	// Receiver fed a mismatched protocol version must reject the handshake.
	r := bufio.NewReader(strings.NewReader("lvmsync PROTO[1]\nsome data that must not be touched"))
	err := ReadHandshake(r)
	mm, ok := err.(*ErrHandshakeMismatch)
	if !ok {
		t.Fatalf("ReadHandshake() error = %v (%T), want *ErrHandshakeMismatch", err, err)
	}
	if mm.Got != "lvmsync PROTO[1]" {
		t.Errorf("ErrHandshakeMismatch.Got = %q", mm.Got)
	}
}

func TestHandshakeNoTrailingNewlineTolerated(t *testing.T) {
	// Snapback files write ProtocolVersion without a trailing newline.
	r := bufio.NewReader(strings.NewReader(ProtocolVersion))
	if err := ReadHandshake(r); err != nil {
		t.Errorf("ReadHandshake(no trailing newline) = %v, want nil", err)
	}
}

func TestSnapbackHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSnapbackHandshake(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != ProtocolVersion {
		t.Fatalf("buf = %q, want %q (no trailing newline)", buf.String(), ProtocolVersion)
	}
	if err := ReadHandshake(bufio.NewReader(&buf)); err != nil {
		t.Fatalf("ReadHandshake() = %v, want nil", err)
	}
}

func TestWriteRecord(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0xAA}, 512)
	h := RecordHeader{OriginOffset: 3, ChunkSize: 512}
	if err := WriteRecord(&buf, h, payload); err != nil {
		t.Fatal(err)
	}
	got, err := ReadRecordHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	gotPayload := make([]byte, 512)
	if _, err := io.ReadFull(&buf, gotPayload); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Error("payload mismatch")
	}
}
