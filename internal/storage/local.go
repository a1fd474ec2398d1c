package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
)

const maxNameAttempts = 8

// Local keeps asset files in a single content directory. Keys are plain file
// names of the form <unix-nanos>_<sanitized-name>.
type Local struct {
	name string
	dir  string
	now  func() time.Time
}

// NewLocal creates the content directory if needed.
func NewLocal(name, dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &Local{name: name, dir: dir, now: time.Now}, nil
}

// Name implements Backend.
func (l *Local) Name() string { return l.name }

// Put writes r to a fresh file. O_EXCL guarantees an existing file is never
// overwritten; on a clash the next timestamp is tried. A negative size skips
// the length check.
func (l *Local) Put(ctx context.Context, r io.Reader, size int64, originalName, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := Sanitize(originalName)
	stamp := l.now().UnixNano()
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		key := fmt.Sprintf("%d_%s", stamp+int64(attempt), clean)
		path := filepath.Join(l.dir, key)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", key, err)
		}
		written, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err == nil && size >= 0 && written != size {
			err = fmt.Errorf("short write: %d of %d bytes", written, size)
		}
		if err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("write %s: %w", key, err)
		}
		return key, nil
	}
	return "", fmt.Errorf("allocate file name for %q: %w", clean, errs.ErrConflict)
}

// Resolve opens the file for streaming. The filename argument is unused; the
// HTTP layer sets Content-Disposition for streams.
func (l *Local) Resolve(ctx context.Context, key, _ string) (*Access, error) {
	f, err := l.open(ctx, key)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return &Access{Body: f, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Open implements Backend.
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return l.open(ctx, key)
}

func (l *Local) open(ctx context.Context, key string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := l.path(key)
	if !ok {
		return nil, fmt.Errorf("%w: malformed key", errs.ErrAssetMissingOnBackend)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", errs.ErrAssetMissingOnBackend, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the file. Missing files are ignored.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, ok := l.path(key)
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Health verifies the content directory is still a directory.
func (l *Local) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(l.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", errs.ErrStorageUnavailable, l.dir)
	}
	return nil
}

// path maps a key to a file inside dir, refusing anything that could escape it.
func (l *Local) path(key string) (string, bool) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", false
	}
	return filepath.Join(l.dir, key), true
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
