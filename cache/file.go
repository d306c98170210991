package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
)

const (
	cacheDirPerm  = fs.FileMode(0o700)
	cacheFilePerm = fs.FileMode(0o600)
)

// File keeps one JSON file per key in a directory. Expired entries are
// dropped lazily on read; there is no background sweep.
//
// Writes to the same key from concurrent processes are not atomic with
// respect to each other. The last writer wins and a reader may observe a
// partially written file, which decodes as absent.
type File struct {
	dir string
	now func() time.Time
}

// NewFile returns a File cache rooted at dir. The directory is created on
// first write.
func NewFile(dir string) *File {
	return &File{dir: dir, now: time.Now}
}

// Dir returns the cache directory.
func (f *File) Dir() string {
	return f.dir
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, hashKey(key)+".json")
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("reading cache entry: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", false, nil
	}

	if !rec.live(f.now()) {
		return "", false, nil
	}

	return rec.Value, true, nil
}

// Set writes the entry. A failure to create the directory or write the
// file is reported as ErrCacheUnwritable.
func (f *File) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if err := os.MkdirAll(f.dir, cacheDirPerm); err != nil {
		return fmt.Errorf("%w: %s: %v", apierrors.ErrCacheUnwritable, f.dir, err)
	}

	data, err := json.Marshal(newRecord(value, ttl, f.now()))
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	if err := os.WriteFile(f.path(key), data, cacheFilePerm); err != nil {
		return fmt.Errorf("%w: %s: %v", apierrors.ErrCacheUnwritable, f.dir, err)
	}

	return nil
}
