//go:build linux

package exceptionstore

import (
	"log"
	"os"

	"golang.org/x/sys/unix"
)

// blkFlsBuf is BLKFLSBUF, the ioctl that asks the kernel to flush the
// buffer cache for a block device: _IO(0x12, 97) per <linux/fs.h>.
const blkFlsBuf = 0x1261

// dropDeviceCache flushes cached reads of the exception-store device so
// that subsequent reads observe the CoW activity recorded since the
// snapshot was taken. The kernel does not keep the exception-store
// device's page cache coherent with CoW writes, so a stale read is likely
// without this.
//
// Two layers are attempted, both best-effort:
//  1. BLKFLSBUF on the exception-store file descriptor directly, a
//     targeted per-device invalidation.
//  2. The blunt, system-wide drop_caches write, performed regardless of
//     whether (1) succeeded.
//
// Failures at either layer are logged as warnings, never fatal.
func dropDeviceCache(f *os.File) {
	if err := unix.IoctlSetInt(int(f.Fd()), blkFlsBuf, 0); err != nil {
		log.Printf("lvmsync: warning: BLKFLSBUF on %s failed (continuing): %v", f.Name(), err)
	}
	dropSystemWideCache()
}

func dropSystemWideCache() {
	const dropCachesPath = "/proc/sys/vm/drop_caches"
	fd, err := os.OpenFile(dropCachesPath, os.O_WRONLY, 0)
	if err != nil {
		log.Printf("lvmsync: warning: opening %s failed (continuing): %v", dropCachesPath, err)
		return
	}
	defer fd.Close()
	if _, err := fd.WriteString("3"); err != nil {
		log.Printf("lvmsync: warning: writing to %s failed (continuing): %v", dropCachesPath, err)
	}
}
