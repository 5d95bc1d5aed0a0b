package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mohammad-safakhou/groundchat/store"
)

const fileName = "store.gob"

// File keeps the snapshot as a gob file inside a directory.
type File struct {
	dir string
}

func NewFile(dir string) *File {
	return &File{dir: dir}
}

func (f *File) Path() string { return filepath.Join(f.dir, fileName) }

func (f *File) Load(ctx context.Context) (*store.Snapshot, error) {
	b, err := os.ReadFile(f.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return decode(b)
}

// Save replaces the file atomically: write to a temp file, then rename.
func (f *File) Save(ctx context.Context, snap *store.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encode(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), f.Path())
}
