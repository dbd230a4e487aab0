package exceptionstore

import (
	"os"

	"golang.org/x/xerrors"
)

// OpenDevice opens the exception-store block device at path, drops stale
// cached reads of it, and returns a Reader positioned to enumerate
// modified origin chunks. The caller owns the returned *os.File and must
// Close it once done.
func OpenDevice(path string) (*Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, xerrors.Errorf("opening exception-store device %s: %w", path, err)
	}

	dropDeviceCache(f)

	rd, err := Open(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return rd, f, nil
}
