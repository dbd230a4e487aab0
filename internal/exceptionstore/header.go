package exceptionstore

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// snapshotMagic is the magic number stored in the first 4 bytes of an LVM
// CoW exception-store device, little-endian: "SnAp" read backwards through
// the usual ASCII-as-uint32 trick the kernel uses.
const snapshotMagic = 0x70416e53

// headerSize is the fixed 16-byte on-disk header: magic, valid,
// metadata_version, chunksize_in_sectors, each a little-endian uint32.
const headerSize = 16

// onDiskHeader mirrors the exact byte layout of the snapshot header.
type onDiskHeader struct {
	Magic              uint32
	Valid              uint32
	MetadataVersion    uint32
	ChunkSizeInSectors uint32
}

// Header is the parsed and validated snapshot-exception-store header.
type Header struct {
	Magic           uint32
	Valid           uint32
	MetadataVersion uint32

	// ChunkSize is the chunk size in bytes (chunksize_in_sectors * 512).
	ChunkSize int
}

// ErrInvalidMagic is returned when the header's magic field does not match
// the expected LVM snapshot signature.
type ErrInvalidMagic struct {
	Got uint32
}

func (e *ErrInvalidMagic) Error() string {
	return xerrors.Errorf("invalid snapshot magic: got %#x, want %#x", e.Got, uint32(snapshotMagic)).Error()
}

// ErrSnapshotInvalid is returned when the header's valid field is not 1.
type ErrSnapshotInvalid struct {
	Got uint32
}

func (e *ErrSnapshotInvalid) Error() string {
	return xerrors.Errorf("snapshot marked invalid (valid field = %d, want 1)", e.Got).Error()
}

// ErrUnsupportedMetadataVersion is returned when metadata_version != 1;
// this implementation supports only metadata version 1.
type ErrUnsupportedMetadataVersion struct {
	Got uint32
}

func (e *ErrUnsupportedMetadataVersion) Error() string {
	return xerrors.Errorf("unsupported metadata version %d (only version 1 is supported)", e.Got).Error()
}

// parseHeader reads and validates the 16-byte snapshot header from r.
func parseHeader(r io.Reader) (Header, error) {
	var raw onDiskHeader
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return Header{}, xerrors.Errorf("reading snapshot header: %w", err)
	}

	if raw.Magic != snapshotMagic {
		return Header{}, &ErrInvalidMagic{Got: raw.Magic}
	}
	if raw.Valid != 1 {
		return Header{}, &ErrSnapshotInvalid{Got: raw.Valid}
	}
	if raw.MetadataVersion != 1 {
		return Header{}, &ErrUnsupportedMetadataVersion{Got: raw.MetadataVersion}
	}

	return Header{
		Magic:           raw.Magic,
		Valid:           raw.Valid,
		MetadataVersion: raw.MetadataVersion,
		ChunkSize:       int(raw.ChunkSizeInSectors) * 512,
	}, nil
}
