package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalFS stores blobs under a root directory on the local filesystem.
type LocalFS struct {
	root string
}

func NewLocalFS(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (lfs *LocalFS) Root() string {
	return lfs.root
}

func (lfs *LocalFS) resolve(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", ErrInvalidPath
	}
	full := filepath.Join(lfs.root, filepath.Clean(path))
	rel, err := filepath.Rel(lfs.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}

func (lfs *LocalFS) Create(ctx context.Context, path string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	full, err := lfs.resolve(path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return 0, fmt.Errorf("create blob directory: %w", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("create blob: %w", err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("write blob: %w", err)
	}
	return n, syncClose(f)
}

func (lfs *LocalFS) Append(ctx context.Context, path string, at int64, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	full, err := lfs.resolve(path)
	if err != nil {
		return 0, err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("open blob for append: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("stat blob: %w", err)
	}
	switch {
	case stat.Size() < at:
		f.Close()
		return 0, fmt.Errorf("%w: have %d, want %d", ErrShortBlob, stat.Size(), at)
	case stat.Size() > at:
		if err := f.Truncate(at); err != nil {
			f.Close()
			return 0, fmt.Errorf("truncate blob: %w", err)
		}
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("append blob: %w", err)
	}
	return n, syncClose(f)
}

func (lfs *LocalFS) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := lfs.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (lfs *LocalFS) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := lfs.resolve(from)
	if err != nil {
		return err
	}
	dst, err := lfs.resolve(to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("rename blob: %w", err)
	}
	return nil
}

func (lfs *LocalFS) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := lfs.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (lfs *LocalFS) Size(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	full, err := lfs.resolve(path)
	if err != nil {
		return 0, err
	}
	stat, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return stat.Size(), nil
}

// syncClose flushes to disk before closing so a successful return means the
// bytes are durable.
func syncClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync blob: %w", err)
	}
	return f.Close()
}
