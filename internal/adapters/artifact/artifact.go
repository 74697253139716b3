// Package artifact persists uploaded prediction files.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const timestampLayout = "20060102150405"

var ErrNotDirectory = errors.New("not a directory")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store saves and removes uploaded files.
type Store interface {
	Save(ctx context.Context, userID string, at time.Time, r io.Reader) (ref string, err error)
	Remove(ctx context.Context, ref string) error
}

// DiskStore writes artifacts under a directory as
// <timestamp>_<user>_<uuid>.csv.
type DiskStore struct {
	dir string
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat upload dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("upload dir %s: %w", dir, ErrNotDirectory)
	}
	return &DiskStore{dir: dir}, nil
}

// Name builds the artifact file name for userID at time at.
func Name(userID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.csv", at.UTC().Format(timestampLayout), unsafeChars.ReplaceAllString(userID, "_"), uuid.NewString())
}

// Save writes r to a new file and returns its reference.
func (s *DiskStore) Save(ctx context.Context, userID string, at time.Time, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := Name(userID, at)
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return name, nil
}

// Remove deletes an artifact. A missing file is not an error.
func (s *DiskStore) Remove(_ context.Context, ref string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.Base(ref)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", ref, err)
	}
	return nil
}

// Path returns the on-disk location of ref.
func (s *DiskStore) Path(ref string) string {
	return filepath.Join(s.dir, filepath.Base(ref))
}
