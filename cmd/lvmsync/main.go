// Command lvmsync transfers the changes accumulated in an LVM
// copy-on-write snapshot back to the snapshot's origin block device,
// which is typically on a remote host.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/distr1/lvmsync"
	"github.com/distr1/lvmsync/internal/syncmode"
	"golang.org/x/xerrors"
)

var debug = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")

const sendHelp = `lvmsync send [-flags] <snapshot> [user@]host:<destdevice>

Sends the chunks modified since <snapshot> was taken to <destdevice> on
host, spawning lvmsync server there over the remote shell (-shell).

Example:
  % lvmsync send vg0/data-snap db2.example.com:/dev/vg0/data
`

const patchHelp = `lvmsync patch [-flags] <patchfile> <snapshot>

Writes the chunks modified since <snapshot> was taken to <patchfile>
instead of transferring them anywhere; apply the patch later with
lvmsync apply.

Example:
  % lvmsync patch /tmp/data.patch vg0/data-snap
`

const serverHelp = `lvmsync server [-flags] <destdevice>

Not intended for interactive use: reads a record stream per the lvmsync
wire protocol from stdin and applies it to destdevice. This is what send
runs on the remote host via the remote shell.
`

const applyHelp = `lvmsync apply <patchfile> <destdevice>

Applies a patch or snapback file created earlier to destdevice directly,
with no network or remote shell involved.
`

func cmdSend(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("send", flag.ExitOnError)
	var (
		snapback = fset.String("snapback", "", "capture a rollback file at this path on the destination before applying")
		shell    = fset.String("shell", "ssh", "remote shell command used to reach the destination host")
		verbose  = fset.Bool("v", false, "run verbosely")
	)
	fset.Usage = usage(fset, sendHelp)
	fset.Parse(args)

	if fset.NArg() != 2 {
		return xerrors.New("syntax: lvmsync send [options] <snapshot> [user@]host:<destdevice>")
	}
	snapshot := fset.Arg(0)
	host, device := splitHostDevice(fset.Arg(1))
	if host == "" {
		return xerrors.New("destination must be [user@]host:<destdevice>; for a local destination, use lvmsync patch followed by lvmsync apply")
	}

	cfg := syncmode.SendConfig{
		Snapshot:     snapshot,
		RemoteHost:   host,
		RemoteDevice: device,
		RemoteShell:  *shell,
		Snapback:     *snapback,
		Verbose:      *verbose,
	}
	stats, err := cfg.Run(ctx)
	if err != nil {
		return err
	}
	if *verbose {
		log.Printf("transferred %d of %d chunks (%d bytes per chunk, %.1f%% saved)",
			stats.ChunksSent, stats.TotalChunks, stats.ChunkSize, stats.SavedPercent())
	}
	return nil
}

func cmdPatch(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("patch", flag.ExitOnError)
	verbose := fset.Bool("v", false, "run verbosely")
	fset.Usage = usage(fset, patchHelp)
	fset.Parse(args)

	if fset.NArg() != 2 {
		return xerrors.New("syntax: lvmsync patch [options] <patchfile> <snapshot>")
	}
	cfg := syncmode.SendConfig{
		Snapshot:  fset.Arg(1),
		PatchFile: fset.Arg(0),
		Verbose:   *verbose,
	}
	stats, err := cfg.Run(ctx)
	if err != nil {
		return err
	}
	if *verbose {
		log.Printf("wrote %d of %d chunks to %s", stats.ChunksSent, stats.TotalChunks, cfg.PatchFile)
	}
	return nil
}

func cmdServer(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("server", flag.ExitOnError)
	snapback := fset.String("snapback", "", "capture a rollback file at this path before applying")
	fset.Usage = usage(fset, serverHelp)
	fset.Parse(args)

	if fset.NArg() != 1 {
		return xerrors.New("syntax: lvmsync server [options] <destdevice>")
	}
	cfg := syncmode.ReceiveConfig{
		Device:   fset.Arg(0),
		Snapback: *snapback,
	}
	stats, err := cfg.Run(os.Stdin)
	if err != nil {
		return err
	}
	log.Printf("applied %d chunks", stats.RecordsApplied)
	return nil
}

func cmdApply(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("apply", flag.ExitOnError)
	fset.Usage = usage(fset, applyHelp)
	fset.Parse(args)

	if fset.NArg() != 2 {
		return xerrors.New("syntax: lvmsync apply <patchfile> <destdevice>")
	}
	cfg := syncmode.ApplyConfig{
		File:   fset.Arg(0),
		Device: fset.Arg(1),
	}
	stats, err := cfg.Run()
	if err != nil {
		return err
	}
	log.Printf("applied %d chunks", stats.RecordsApplied)
	return nil
}

// splitHostDevice splits a "[user@]host:device" argument into its host
// and device parts. A destination with no colon is treated as a local
// device path, with an empty host.
func splitHostDevice(s string) (host, device string) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", s
	}
	return s[:idx], s[idx+1:]
}

type cmd struct {
	fn func(ctx context.Context, args []string) error
}

func funcmain() error {
	flag.Parse()

	verbs := map[string]cmd{
		"send":   {cmdSend},
		"patch":  {cmdPatch},
		"server": {cmdServer},
		"apply":  {cmdApply},
	}

	args := flag.Args()
	verb := "send"
	if len(args) > 0 {
		verb, args = args[0], args[1:]
	}

	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: lvmsync <command> [options]\n")
		os.Exit(2)
	}

	ctx, canc := lvmsync.InterruptibleContext()
	defer canc()

	if err := v.fn(ctx, args); err != nil {
		lvmsync.RunAtExit()
		if *debug {
			return xerrors.Errorf("%s: %+v", verb, err)
		}
		return xerrors.Errorf("%s: %v", verb, err)
	}

	return lvmsync.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
