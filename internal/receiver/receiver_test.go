package receiver

import (
	"bytes"
	"io"
	"testing"

	"github.com/distr1/lvmsync/internal/wire"
)

// memDevice is a fixed-size in-memory stand-in for a block device,
// implementing both io.WriterAt and io.ReaderAt.
type memDevice struct {
	data []byte
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	n := copy(d.data[off:], p)
	return n, nil
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, d.data[off:])
	return n, nil
}

type testRecord struct {
	offset  uint64
	payload byte
}

func buildStream(records ...testRecord) []byte {
	var buf bytes.Buffer
	buf.WriteString(wire.ProtocolVersion + "\n")
	for _, r := range records {
		h := wire.RecordHeader{OriginOffset: r.offset, ChunkSize: 4}
		buf.Write(h.Encode())
		buf.Write(bytes.Repeat([]byte{r.payload}, 4))
	}
	return buf.Bytes()
}

func TestApply(t *testing.T) {
	stream := buildStream(
		testRecord{0, 0xAA},
		testRecord{2, 0xBB},
	)

	dst := &memDevice{data: make([]byte, 16)}
	stats, err := Apply(bytes.NewReader(stream), dst)
	if err != nil {
		t.Fatal(err)
	}
	if stats.RecordsApplied != 2 {
		t.Fatalf("RecordsApplied = %d, want 2", stats.RecordsApplied)
	}
	want := []byte{0xAA, 0xAA, 0xAA, 0xAA, 0, 0, 0, 0, 0xBB, 0xBB, 0xBB, 0xBB, 0, 0, 0, 0}
	if !bytes.Equal(dst.data, want) {
		t.Errorf("dst.data = % x, want % x", dst.data, want)
	}
}

func TestApplyMismatchedHandshakeRejected(t *testing.T) {
	stream := []byte("lvmsync PROTO[1]\ngarbage")
	dst := &memDevice{data: make([]byte, 16)}
	if _, err := Apply(bytes.NewReader(stream), dst); err == nil {
		t.Fatal("expected handshake mismatch error, got nil")
	}
}

func TestApplyWithSnapbackRoundTrip(t *testing.T) {
	stream := buildStream(testRecord{1, 0xCC})

	dst := &memDevice{data: bytes.Repeat([]byte{0x11}, 16)}
	var snapback bytes.Buffer
	stats, err := ApplyWithSnapback(bytes.NewReader(stream), dst, dst, &snapback)
	if err != nil {
		t.Fatal(err)
	}
	if stats.RecordsApplied != 1 {
		t.Fatalf("RecordsApplied = %d, want 1", stats.RecordsApplied)
	}

	want := bytes.Repeat([]byte{0x11}, 4)
	if got := dst.data[0:4]; !bytes.Equal(got, want) {
		t.Errorf("chunk 0 untouched = % x, want % x", got, want)
	}
	if got := dst.data[4:8]; !bytes.Equal(got, bytes.Repeat([]byte{0xCC}, 4)) {
		t.Errorf("chunk 1 applied = % x", got)
	}

	// The snapback must now, when applied, restore the pre-image (0x11s).
	restore := &memDevice{data: bytes.Repeat([]byte{0xFF}, 16)}
	restoreStats, err := Apply(bytes.NewReader(snapback.Bytes()), restore)
	if err != nil {
		t.Fatal(err)
	}
	if restoreStats.RecordsApplied != 1 {
		t.Fatalf("restore RecordsApplied = %d, want 1", restoreStats.RecordsApplied)
	}
	if got := restore.data[4:8]; !bytes.Equal(got, want) {
		t.Errorf("restored chunk 1 = % x, want % x (the original pre-image)", got, want)
	}
}

func TestApplyNoRecords(t *testing.T) {
	stream := []byte(wire.ProtocolVersion + "\n")
	dst := &memDevice{data: make([]byte, 4)}
	stats, err := Apply(bytes.NewReader(stream), dst)
	if err != nil {
		t.Fatal(err)
	}
	if stats.RecordsApplied != 0 {
		t.Errorf("RecordsApplied = %d, want 0", stats.RecordsApplied)
	}
}

var _ io.WriterAt = (*memDevice)(nil)
var _ io.ReaderAt = (*memDevice)(nil)
