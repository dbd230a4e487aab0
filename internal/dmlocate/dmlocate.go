// Package dmlocate resolves an LVM snapshot logical volume, given in any
// of the forms a user is likely to type, down to the device-mapper names
// of its origin and exception-store devices.
package dmlocate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Devnum is a device-mapper major:minor pair, as found in dmsetup ls
// output and in a snapshot table's origin/cow arguments.
type Devnum struct {
	Major, Minor int
}

// TableEntry is one line of "dmsetup table" output for a device.
type TableEntry struct {
	Offset int
	Length int
	Type   string
	Args   []string
}

// ErrDeviceNotFound is returned when the canonicalized device-mapper name
// does not appear in "dmsetup ls".
type ErrDeviceNotFound struct {
	Requested string
	Canonical string
}

func (e *ErrDeviceNotFound) Error() string {
	return fmt.Sprintf("could not find dm device %q (name mangled to %q)", e.Requested, e.Canonical)
}

// ErrNotASnapshot is returned when the resolved device's table entry is
// not of type "snapshot".
type ErrNotASnapshot struct {
	Name string
	Type string
}

func (e *ErrNotASnapshot) Error() string {
	return fmt.Sprintf("%s does not appear to be a snapshot (table type %q)", e.Name, e.Type)
}

// ErrDependentDeviceMissing is returned when a snapshot's origin or
// exception-store device, named by devnum in the snapshot table, cannot
// be found among known dm devices. This should not happen for a
// consistent device-mapper table; its presence indicates the table was
// read mid-change or the snapshot is in an unusual state.
type ErrDependentDeviceMissing struct {
	Which  string // "origin" or "exception store"
	Devnum Devnum
}

func (e *ErrDependentDeviceMissing) Error() string {
	return fmt.Sprintf("no %s device found for devnum %d:%d", e.Which, e.Devnum.Major, e.Devnum.Minor)
}

var (
	dmListRE   = regexp.MustCompile(`^(\S+)\s+\((\d+)[,:]\s*(\d+)\)$`)
	dmTableRE  = regexp.MustCompile(`^(\S+):\s+(\d+)\s+(\d+)\s+(\S+)\s+(.*)$`)
	vgMapperRE = regexp.MustCompile(`^/dev/([^/]+)/(.+)$`)
	vgSlashRE  = regexp.MustCompile(`^([^/]+)/(.*)$`)
	mapperRE   = regexp.MustCompile(`^/dev/mapper/(.+)$`)
)

// Canonicalize turns a device name given in any of the forms
// "/dev/mapper/vg-lv", "/dev/vg/lv", or "vg/lv" into the device-mapper
// name dmsetup itself would use, e.g. "vg-lv". A bare name with none of
// these shapes is returned unchanged, on the assumption the caller
// already gave us a dm name.
func Canonicalize(name string) string {
	if m := mapperRE.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if m := vgMapperRE.FindStringSubmatch(name); m != nil {
		return mangle(m[1]) + "-" + mangle(m[2])
	}
	if m := vgSlashRE.FindStringSubmatch(name); m != nil {
		return mangle(m[1]) + "-" + mangle(m[2])
	}
	return name
}

func mangle(s string) string {
	return strings.ReplaceAll(s, "-", "--")
}

// list maps a dm device name to its devnum, as reported by "dmsetup ls".
type list map[string]Devnum

// table maps a dm device name to its table entries, as reported by
// "dmsetup table". A device normally has exactly one entry; multi-segment
// devices can have more, though snapshot devices never do.
type table map[string][]TableEntry

func runDmsetup(ctx context.Context, verb string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "dmsetup", verb)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, xerrors.Errorf("dmsetup %s: %w (stderr: %s)", verb, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func parseList(out []byte) list {
	l := make(list)
	for _, line := range strings.Split(string(out), "\n") {
		m := dmListRE.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		maj, _ := strconv.Atoi(m[2])
		min, _ := strconv.Atoi(m[3])
		l[m[1]] = Devnum{Major: maj, Minor: min}
	}
	return l
}

func parseTable(out []byte) table {
	t := make(table)
	for _, line := range strings.Split(string(out), "\n") {
		m := dmTableRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		offset, _ := strconv.Atoi(m[2])
		length, _ := strconv.Atoi(m[3])
		t[m[1]] = append(t[m[1]], TableEntry{
			Offset: offset,
			Length: length,
			Type:   m[4],
			Args:   regexp.MustCompile(`\s+`).Split(m[5], -1),
		})
	}
	return t
}

func (l list) byDevnum(d Devnum) (string, bool) {
	for name, dn := range l {
		if dn == d {
			return name, true
		}
	}
	return "", false
}

func parseDevnum(s string) (Devnum, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Devnum{}, xerrors.Errorf("malformed devnum %q", s)
	}
	maj, err := strconv.Atoi(parts[0])
	if err != nil {
		return Devnum{}, xerrors.Errorf("malformed devnum %q: %w", s, err)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil {
		return Devnum{}, xerrors.Errorf("malformed devnum %q: %w", s, err)
	}
	return Devnum{Major: maj, Minor: min}, nil
}

// Snapshot describes the device-mapper names of a resolved snapshot and
// the origin and exception-store devices backing it.
type Snapshot struct {
	Name        string // canonical snapshot dm name
	OriginDM    string
	ExceptionDM string
}

// Locate resolves name (in any form Canonicalize accepts) to the
// device-mapper names of its origin and exception-store devices, reading
// "dmsetup ls" and "dmsetup table" concurrently.
func Locate(ctx context.Context, name string) (*Snapshot, error) {
	var lsOut, tableOut []byte
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		lsOut, err = runDmsetup(ctx, "ls")
		return err
	})
	eg.Go(func() (err error) {
		tableOut, err = runDmsetup(ctx, "table")
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	dmlist := parseList(lsOut)
	dmtable := parseTable(tableOut)

	canon := Canonicalize(name)
	if _, ok := dmlist[canon]; !ok {
		return nil, &ErrDeviceNotFound{Requested: name, Canonical: canon}
	}

	entries := dmtable[canon]
	if len(entries) == 0 || entries[0].Type != "snapshot" {
		got := ""
		if len(entries) > 0 {
			got = entries[0].Type
		}
		return nil, &ErrNotASnapshot{Name: canon, Type: got}
	}
	if len(entries[0].Args) < 2 {
		return nil, xerrors.Errorf("snapshot table entry for %s has %d args, want at least 2 (origin, cow devnum)", canon, len(entries[0].Args))
	}

	originDevnum, err := parseDevnum(entries[0].Args[0])
	if err != nil {
		return nil, xerrors.Errorf("parsing origin devnum for %s: %w", canon, err)
	}
	exceptionDevnum, err := parseDevnum(entries[0].Args[1])
	if err != nil {
		return nil, xerrors.Errorf("parsing exception-store devnum for %s: %w", canon, err)
	}

	originDM, ok := dmlist.byDevnum(originDevnum)
	if !ok {
		return nil, &ErrDependentDeviceMissing{Which: "origin", Devnum: originDevnum}
	}
	exceptionDM, ok := dmlist.byDevnum(exceptionDevnum)
	if !ok {
		return nil, &ErrDependentDeviceMissing{Which: "exception store", Devnum: exceptionDevnum}
	}

	return &Snapshot{
		Name:        canon,
		OriginDM:    originDM,
		ExceptionDM: exceptionDM,
	}, nil
}

// MapperPath returns the /dev/mapper path for a canonical dm name.
func MapperPath(dmName string) string {
	return "/dev/mapper/" + dmName
}
