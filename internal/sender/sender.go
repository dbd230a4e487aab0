// Package sender implements the client side of a transfer: it enumerates
// modified origin chunks from an exception-store reader and writes them,
// framed per internal/wire, to a destination writer.
package sender

import (
	"io"
	"log"
	"time"

	"github.com/distr1/lvmsync/internal/exceptionstore"
	"github.com/distr1/lvmsync/internal/wire"
	"golang.org/x/xerrors"
)

// Stats summarizes a completed transfer.
type Stats struct {
	ChunksSent  int
	TotalChunks int
	ChunkSize   int
}

// SavedPercent returns the fraction of the origin device's chunks that
// did not need to be transferred, as a percentage. It returns 0 if
// TotalChunks is 0.
func (s Stats) SavedPercent() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.TotalChunks-s.ChunksSent) / float64(s.TotalChunks) * 100
}

// Send writes the protocol handshake to dst, then streams every modified
// chunk recorded by rd: it reads each chunk from origin at the recorded
// offset and emits a wire.RecordHeader followed by the chunk payload.
// verbose causes a line to be logged per chunk sent.
func Send(dst io.Writer, rd *exceptionstore.Reader, origin io.ReaderAt, verbose bool) (Stats, error) {
	if err := wire.WriteHandshake(dst); err != nil {
		return Stats{}, err
	}

	chunkSize := rd.ChunkSize()
	buf := make([]byte, chunkSize)
	var stats Stats
	stats.ChunkSize = chunkSize

	start := time.Now()
	for rd.Scan() {
		chunk := rd.Chunk()
		if verbose {
			log.Printf("sending chunk %d", chunk)
		}

		offset := int64(chunk) * int64(chunkSize)
		if _, err := origin.ReadAt(buf, offset); err != nil {
			return stats, xerrors.Errorf("reading origin chunk %d at offset %d: %w", chunk, offset, err)
		}

		h := wire.RecordHeader{OriginOffset: chunk, ChunkSize: uint32(chunkSize)}
		if err := wire.WriteRecord(dst, h, buf); err != nil {
			return stats, xerrors.Errorf("writing chunk %d: %w", chunk, err)
		}
		stats.ChunksSent++
	}
	if err := rd.Err(); err != nil {
		return stats, xerrors.Errorf("enumerating exception store: %w", err)
	}

	if verbose {
		elapsed := time.Since(start)
		log.Printf("sent %d chunks (%d bytes each) in %v", stats.ChunksSent, chunkSize, elapsed)
	}

	return stats, nil
}

// OriginSizeChunks returns the total number of chunkSize-sized chunks in
// an origin device of the given byte size, for use in Stats.TotalChunks.
func OriginSizeChunks(originBytes int64, chunkSize int) int {
	if chunkSize == 0 {
		return 0
	}
	return int(originBytes / int64(chunkSize))
}
