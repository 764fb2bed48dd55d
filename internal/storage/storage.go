// Package storage writes captured stills to disk.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cjeanneret/stillcam/internal/debug"
)

// Image is an encoded still. Close releases it back to its reader.
type Image interface {
	Bytes() []byte
	Close() error
}

// Save writes the image bytes verbatim to path. The image is closed, and so
// is the file, whatever happens.
func Save(img Image, path string) (err error) {
	defer func() {
		if cerr := img.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("release image: %w", cerr)
		}
	}()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	data := img.Bytes()
	if len(data) == 0 {
		return fmt.Errorf("write %s: %w", path, ErrEmptyImage)
	}
	n, err := f.Write(data)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	debug.Verbose("wrote %d bytes to %s", n, path)
	return nil
}

// ErrEmptyImage is returned when the image has no bytes.
var ErrEmptyImage = errors.New("empty image")

// Saver returns a task that saves img to path and logs the outcome.
// Errors are not propagated: the task runs on the camera goroutine.
func Saver(img Image, path string, done func(path string)) func() {
	return func() {
		if err := Save(img, path); err != nil {
			debug.Error(fmt.Errorf("save still: %w", err))
			return
		}
		debug.Saved(path)
		if done != nil {
			done(path)
		}
	}
}
