package exceptionstore

import (
	"io"

	"github.com/distr1/lvmsync/internal/netorder"
	"golang.org/x/xerrors"
)

const exceptionRecordSize = 16 // two u64 fields, network byte order, no padding

// ErrTruncatedExceptionStore is returned when a short read occurs mid
// exception-record; it always indicates a malformed or truncated device.
type ErrTruncatedExceptionStore struct {
	N int
}

func (e *ErrTruncatedExceptionStore) Error() string {
	return xerrors.Errorf("truncated exception-store record: read %d of %d bytes", e.N, exceptionRecordSize).Error()
}

// Reader produces the lazy, finite, non-restartable sequence of modified
// origin chunk indices recorded in a CoW exception store.
//
// Usage follows the bufio.Scanner shape:
//
//	rd, err := exceptionstore.Open(f)
//	for rd.Scan() {
//	    use(rd.Chunk())
//	}
//	if err := rd.Err(); err != nil { ... }
type Reader struct {
	r         io.ReadSeeker
	header    Header
	chunkSize int64

	recordsPerBlock int
	blockStart      int64 // byte offset of the current exception block
	recordIdx       int   // records already consumed from the current block

	cur  uint64
	done bool
	err  error
}

// Open parses and validates the 16-byte snapshot header at the start of r,
// then positions the reader at the first exception block (offset
// chunksize, immediately after the header block).
func Open(r io.ReadSeeker) (*Reader, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, xerrors.Errorf("seeking to snapshot header: %w", err)
	}
	hdr, err := parseHeader(r)
	if err != nil {
		return nil, err
	}

	return &Reader{
		r:               r,
		header:          hdr,
		chunkSize:       int64(hdr.ChunkSize),
		recordsPerBlock: hdr.ChunkSize / exceptionRecordSize,
		blockStart:      int64(hdr.ChunkSize), // skip the header block
	}, nil
}

// ChunkSize returns the chunk size in bytes, as declared by the snapshot
// header. It is immutable for the lifetime of the Reader.
func (rd *Reader) ChunkSize() int { return rd.header.ChunkSize }

// Scan advances to the next modified origin chunk index, reading further
// exception blocks as needed. It returns false at the zero-terminator or
// on error; callers must then check Err.
func (rd *Reader) Scan() bool {
	if rd.done || rd.err != nil {
		return false
	}

	for {
		if rd.recordIdx >= rd.recordsPerBlock {
			// Advance exactly one chunk size from the start of the current
			// block: each exception block occupies one chunk of the device,
			// regardless of how many of its records are populated.
			rd.blockStart += rd.chunkSize
			rd.recordIdx = 0
		}

		if rd.recordIdx == 0 {
			if _, err := rd.r.Seek(rd.blockStart, io.SeekStart); err != nil {
				rd.err = xerrors.Errorf("seeking to exception block at %d: %w", rd.blockStart, err)
				return false
			}
		}

		buf := make([]byte, exceptionRecordSize)
		n, err := io.ReadFull(rd.r, buf)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				rd.err = &ErrTruncatedExceptionStore{N: n}
			} else {
				rd.err = xerrors.Errorf("reading exception record: %w", err)
			}
			return false
		}
		rd.recordIdx++

		origin := netorder.FromNetworkUint64(buf[0:8])
		snap := netorder.FromNetworkUint64(buf[8:16])
		if snap == 0 {
			rd.done = true
			return false
		}

		rd.cur = origin
		return true
	}
}

// Chunk returns the origin chunk index produced by the most recent call to
// Scan that returned true.
func (rd *Reader) Chunk() uint64 { return rd.cur }

// Err returns the first error encountered by Scan, if any. It returns nil
// if Scan returned false because the zero-terminator was reached.
func (rd *Reader) Err() error { return rd.err }
