package syncmode

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/lvmsync/internal/sender"
	"golang.org/x/xerrors"
)

func TestWritePatchFileCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.patch")
	stats, err := writePatchFile(path, func(w io.Writer) (sender.Stats, error) {
		if _, err := w.Write([]byte("hello")); err != nil {
			return sender.Stats{}, err
		}
		return sender.Stats{ChunksSent: 1}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if stats.ChunksSent != 1 {
		t.Errorf("stats = %+v", stats)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("file contents = %q", got)
	}
}

func TestWritePatchFileLeavesNoFileOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.patch")
	_, err := writePatchFile(path, func(w io.Writer) (sender.Stats, error) {
		if _, err := w.Write([]byte("partial")); err != nil {
			return sender.Stats{}, err
		}
		return sender.Stats{}, xerrors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("expected no file at %s after a failed send, stat err = %v", path, statErr)
	}
}
