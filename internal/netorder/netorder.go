// Package netorder converts 32- and 64-bit values between host byte order
// and the explicit byte orders used by the snapshot exception-store format
// and the lvmsync wire protocol.
//
// The exception-store record fields and the wire record header are both
// network byte order (big-endian); the snapshot header is little-endian
// and is read directly with encoding/binary in internal/exceptionstore
// instead, since it is a one-shot fixed struct rather than a
// repeated/streamed field.
package netorder

import "encoding/binary"

// ToNetworkUint32 encodes v as 4 network-byte-order (big-endian) bytes.
func ToNetworkUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// ToNetworkUint64 encodes v as 8 network-byte-order (big-endian) bytes.
func ToNetworkUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// FromNetworkUint32 decodes 4 network-byte-order bytes into a uint32.
// b must be at least 4 bytes long.
func FromNetworkUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// FromNetworkUint64 decodes 8 network-byte-order bytes into a uint64.
// b must be at least 8 bytes long.
func FromNetworkUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
