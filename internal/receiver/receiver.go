// Package receiver implements the server side of a transfer: it reads
// framed chunk records from a stream and applies them to a destination
// device, optionally capturing a snapback file that can undo the apply.
package receiver

import (
	"bufio"
	"io"
	"log"
	"os"

	"github.com/distr1/lvmsync/internal/wire"
	"github.com/google/renameio"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Stats summarizes a completed apply.
type Stats struct {
	RecordsApplied int
}

// Apply reads the handshake and every following record from r, writing
// each chunk's payload to dst at OriginOffset*ChunkSize. It does not
// itself write a snapback; see ApplyWithSnapback for that.
func Apply(r io.Reader, dst io.WriterAt) (Stats, error) {
	return apply(r, dst, nil)
}

// ApplyWithSnapback behaves like Apply, but additionally writes, for
// every record, the pre-image bytes read from dst before the record's
// payload overwrites them, so that the resulting snapback file can later
// restore dst to its prior state (see internal/syncmode's apply mode).
// dstReader must read the same underlying device as dst.
func ApplyWithSnapback(r io.Reader, dst io.WriterAt, dstReader io.ReaderAt, snapback io.Writer) (Stats, error) {
	if err := wire.WriteSnapbackHandshake(snapback); err != nil {
		return Stats{}, err
	}
	return apply(r, dst, func(h wire.RecordHeader) error {
		preimage := make([]byte, h.ChunkSize)
		offset := int64(h.OriginOffset) * int64(h.ChunkSize)
		if _, err := dstReader.ReadAt(preimage, offset); err != nil && err != io.EOF {
			return xerrors.Errorf("reading pre-image for snapback at offset %d: %w", offset, err)
		}
		if _, err := snapback.Write(h.Encode()); err != nil {
			return xerrors.Errorf("writing snapback record header: %w", err)
		}
		if _, err := snapback.Write(preimage); err != nil {
			return xerrors.Errorf("writing snapback record payload: %w", err)
		}
		return nil
	})
}

func apply(r io.Reader, dst io.WriterAt, beforeWrite func(wire.RecordHeader) error) (Stats, error) {
	br := bufio.NewReader(r)
	if err := wire.ReadHandshake(br); err != nil {
		return Stats{}, err
	}

	var stats Stats
	for {
		h, err := wire.ReadRecordHeader(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}

		if beforeWrite != nil {
			if err := beforeWrite(h); err != nil {
				return stats, err
			}
		}

		payload := make([]byte, h.ChunkSize)
		if _, err := io.ReadFull(br, payload); err != nil {
			return stats, xerrors.Errorf("reading payload for chunk %d: %w", h.OriginOffset, err)
		}

		offset := int64(h.OriginOffset) * int64(h.ChunkSize)
		if _, err := dst.WriteAt(payload, offset); err != nil {
			return stats, xerrors.Errorf("writing chunk %d at offset %d: %w", h.OriginOffset, offset, err)
		}
		stats.RecordsApplied++
	}

	return stats, nil
}

// OpenDestination opens the destination device for read-write, locking
// it with an exclusive advisory flock so a concurrent apply cannot
// interleave writes to the same device.
func OpenDestination(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, xerrors.Errorf("opening destination device %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, xerrors.Errorf("locking destination device %s: %w", path, err)
	}
	return f, nil
}

// WriteSnapback atomically creates the snapback file at path, ensuring a
// crash or interrupted apply never leaves a half-written rollback file
// behind.
func WriteSnapback(path string, write func(io.Writer) error) error {
	f, err := renameio.TempFile("", path)
	if err != nil {
		return xerrors.Errorf("creating snapback file %s: %w", path, err)
	}
	defer f.Cleanup()

	if err := write(f); err != nil {
		return err
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("closing snapback file %s: %w", path, err)
	}
	log.Printf("lvmsync: snapback written to %s", path)
	return nil
}
