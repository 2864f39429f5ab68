// Package filex holds filesystem helpers for blob storage and upload
// spooling.
package filex

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned by Spool when the source yields more than the
// allowed number of bytes.
var ErrTooLarge = errors.New("payload exceeds size limit")

// EnsureDir creates dir (relative paths resolve against the working
// directory) and returns its absolute path.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return abs, nil
}

// Spool copies at most max bytes from r into a new temporary file in dir
// and rewinds it. The caller owns the file and must release it with
// Discard. On error nothing is left behind on disk.
func Spool(dir string, r io.Reader, max int64) (*os.File, int64, error) {
	f, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return nil, 0, fmt.Errorf("create spool: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, max+1))
	if err == nil && n > max {
		err = ErrTooLarge
	}
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		Discard(f)
		return nil, 0, fmt.Errorf("spool: %w", err)
	}
	return f, n, nil
}

// Discard closes and removes a spool file. It is safe on nil.
func Discard(f *os.File) {
	if f == nil {
		return
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
}
