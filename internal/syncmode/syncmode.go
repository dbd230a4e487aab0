// Package syncmode wires together device resolution, exception-store
// enumeration, and the wire protocol into the four ways lvmsync can run:
// sending over a remote shell, writing a local patch file, receiving as
// a server, and applying a patch or snapback file directly.
package syncmode

import (
	"context"
	"io"
	"log"
	"os"
	"os/exec"

	"github.com/distr1/lvmsync"
	"github.com/distr1/lvmsync/internal/dmlocate"
	"github.com/distr1/lvmsync/internal/exceptionstore"
	"github.com/distr1/lvmsync/internal/receiver"
	"github.com/distr1/lvmsync/internal/sender"
	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// SendConfig configures a client-side transfer, in either remote-shell or
// local-patch-file form.
type SendConfig struct {
	// Snapshot is the snapshot device in any form dmlocate.Canonicalize
	// accepts.
	Snapshot string

	// RemoteHost, if non-empty, causes Run to spawn the server over this
	// remote shell target (e.g. "user@host") instead of writing a patch
	// file. RemoteDevice must then name the destination device on that
	// host.
	RemoteHost    string
	RemoteDevice  string
	RemoteShell   string // defaults to "ssh" when RemoteHost is set
	RemoteCommand string // remote lvmsync binary name, defaults to "lvmsync"

	// PatchFile, used when RemoteHost is empty, is where the patch is
	// written; "-" means stdout.
	PatchFile string

	// Snapback, if non-empty, asks the remote server to keep a rollback
	// file at this path before applying. It has no effect when writing a
	// patch file.
	Snapback string

	Verbose bool
}

// Run resolves the snapshot's origin and exception-store devices, opens
// them, and streams the changed chunks to either a spawned remote server
// or a local patch file.
func (c SendConfig) Run(ctx context.Context) (sender.Stats, error) {
	snap, err := dmlocate.Locate(ctx, c.Snapshot)
	if err != nil {
		return sender.Stats{}, err
	}
	if c.Verbose {
		log.Printf("found origin dm device: %s", snap.OriginDM)
		log.Printf("found exception-store dm device: %s", snap.ExceptionDM)
	}

	rd, excFile, err := exceptionstore.OpenDevice(dmlocate.MapperPath(snap.ExceptionDM))
	if err != nil {
		return sender.Stats{}, err
	}
	lvmsync.RegisterAtExit(excFile.Close)

	origin, err := os.Open(dmlocate.MapperPath(snap.OriginDM))
	if err != nil {
		return sender.Stats{}, xerrors.Errorf("opening origin device: %w", err)
	}
	lvmsync.RegisterAtExit(origin.Close)

	if c.RemoteHost != "" {
		cmd, err := c.remoteServerCmd(ctx)
		if err != nil {
			return sender.Stats{}, err
		}
		stats, err := c.send(cmd, rd, origin)
		if closeErr := cmd.Close(); err == nil && closeErr != nil {
			err = xerrors.Errorf("remote server: %w", closeErr)
		}
		return stats, err
	}

	if c.PatchFile == "-" {
		return c.send(os.Stdout, rd, origin)
	}
	return writePatchFile(c.PatchFile, func(w io.Writer) (sender.Stats, error) {
		return c.send(w, rd, origin)
	})
}

// seekableReaderAt is what an opened origin device must support: Send
// reads chunks from arbitrary offsets, and the size probe afterwards
// seeks to the end.
type seekableReaderAt interface {
	io.ReaderAt
	io.Seeker
}

// send streams the transfer to dst and, on success, fills in
// Stats.TotalChunks from the origin device's size.
func (c SendConfig) send(dst io.Writer, rd *exceptionstore.Reader, origin seekableReaderAt) (sender.Stats, error) {
	stats, err := sender.Send(dst, rd, origin, c.Verbose)
	if err != nil {
		return stats, err
	}
	if totalBytes, err := origin.Seek(0, io.SeekEnd); err == nil {
		stats.TotalChunks = sender.OriginSizeChunks(totalBytes, rd.ChunkSize())
	}
	return stats, nil
}

// remoteCmd wraps an exec.Cmd as an io.WriteCloser over its stdin, so
// that Send can write to it like any other destination; Close waits for
// the remote process to exit.
type remoteCmd struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (r *remoteCmd) Write(p []byte) (int, error) { return r.stdin.Write(p) }

func (r *remoteCmd) Close() error {
	if err := r.stdin.Close(); err != nil {
		return err
	}
	return r.cmd.Wait()
}

func (c SendConfig) remoteServerCmd(ctx context.Context) (*remoteCmd, error) {
	shell := c.RemoteShell
	if shell == "" {
		shell = "ssh"
	}
	remoteBin := c.RemoteCommand
	if remoteBin == "" {
		remoteBin = "lvmsync"
	}
	args := []string{c.RemoteHost, remoteBin, "server"}
	if c.Snapback != "" {
		args = append(args, "-snapback", c.Snapback)
	}
	args = append(args, c.RemoteDevice)

	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, xerrors.Errorf("setting up remote shell stdin: %w", err)
	}
	if c.Verbose {
		log.Printf("running %v", cmd.Args)
	}
	if err := cmd.Start(); err != nil {
		return nil, xerrors.Errorf("starting %v: %w", cmd.Args, err)
	}
	return &remoteCmd{cmd: cmd, stdin: stdin}, nil
}

// writePatchFile creates path atomically: send's output goes to a temp
// file first, and path is only ever replaced once send returns without
// error, the same renameio.TempFile/Cleanup/CloseAtomicallyReplace
// sequence receiver.WriteSnapback uses for the snapback file. A transfer
// killed or erroring partway therefore never leaves a half-written patch
// file visible at path.
func writePatchFile(path string, send func(io.Writer) (sender.Stats, error)) (sender.Stats, error) {
	f, err := renameio.TempFile("", path)
	if err != nil {
		return sender.Stats{}, xerrors.Errorf("creating patch file %s: %w", path, err)
	}
	defer f.Cleanup()

	stats, err := send(f)
	if err != nil {
		return stats, err
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return stats, xerrors.Errorf("closing patch file %s: %w", path, err)
	}
	return stats, nil
}

// ReceiveConfig configures the server side of a transfer (the "server"
// verb): applying an incoming record stream directly to a device.
type ReceiveConfig struct {
	Device   string
	Snapback string
}

// Run reads the handshake and records from r, applying them to Device. If
// Snapback is set, it captures a rollback file before overwriting.
func (c ReceiveConfig) Run(r io.Reader) (receiver.Stats, error) {
	dst, err := receiver.OpenDestination(c.Device)
	if err != nil {
		return receiver.Stats{}, err
	}
	defer dst.Close()

	if c.Snapback == "" {
		return receiver.Apply(r, dst)
	}

	var stats receiver.Stats
	err = receiver.WriteSnapback(c.Snapback, func(w io.Writer) error {
		var applyErr error
		stats, applyErr = receiver.ApplyWithSnapback(r, dst, dst, w)
		return applyErr
	})
	return stats, err
}

// ApplyConfig configures apply mode: replaying a previously captured
// patch or snapback file directly against a device, with no network
// involved.
type ApplyConfig struct {
	File   string
	Device string
}

// Run opens File and Device and replays File's records onto Device.
func (c ApplyConfig) Run() (receiver.Stats, error) {
	f, err := os.Open(c.File)
	if err != nil {
		return receiver.Stats{}, xerrors.Errorf("opening %s: %w", c.File, err)
	}
	defer f.Close()

	dst, err := receiver.OpenDestination(c.Device)
	if err != nil {
		return receiver.Stats{}, err
	}
	defer dst.Close()

	return receiver.Apply(f, dst)
}
