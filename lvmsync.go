// Package lvmsync synchronizes the changes accumulated in an LVM
// copy-on-write snapshot back to a block device by transferring only the
// chunks that differ from the origin.
//
// The package holds only process-wide plumbing shared by every mode
// (cancellation, at-exit cleanup); the protocol, exception-store parsing,
// device resolution, sending and receiving live in internal/.
package lvmsync
