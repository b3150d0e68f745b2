// Package capture defines the frame capture contract and the transforms
// applied to every captured image.
//
// Read blocks until one image is available. Two conditions are part of the
// normal control flow:
//
//   - ErrNoFrame (or any other error): the device returned nothing this time.
//     The caller logs it and reads again.
//   - io.EOF: a file source is exhausted. The caller stops.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

var (
	// ErrNoFrame is returned when a read attempt produced no image
	ErrNoFrame = errors.New("capture: no frame")

	// ErrNotFound is returned at construction when a file source does not exist.
	// It matches fs.ErrNotExist with errors.Is.
	ErrNotFound = fmt.Errorf("capture: source not found: %w", fs.ErrNotExist)
)

// Capturer yields images from a device, a file or a generator
type Capturer interface {
	// Read blocks until the next image. io.EOF marks the end of a file source.
	Read(ctx context.Context) (types.Image, error)
	// Close releases the underlying device. It is idempotent.
	Close() error
}

// Kind selects the capture origin
type Kind string

const (
	KindDevice    Kind = "device"
	KindFile      Kind = "file"
	KindSynthetic Kind = "synthetic"
)

// CheckFile verifies that path names an existing regular file
func CheckFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty file path", ErrNotFound)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("capture: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("capture: %s is a directory", path)
	}
	return nil
}
