// Package diskspace checks free space before archives and downloads are
// written to disk.
package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rescale/rescale-drive/internal/view"
)

// DefaultSafetyMargin leaves 10% headroom over the bytes being written.
const DefaultSafetyMargin = 1.1

// InsufficientSpaceError reports a target filesystem without enough room.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, have %s available",
		e.Path, view.FormatSize(e.RequiredBytes), view.FormatSize(e.AvailableBytes))
}

// CheckAvailableSpace verifies that the filesystem holding targetPath (which
// need not exist yet) can take requiredBytes times safetyMargin. When free
// space cannot be determined the check passes and the write is left to fail
// on its own.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	if safetyMargin < 1 {
		safetyMargin = 1
	}
	avail, ok := availableBytes(filepath.Dir(targetPath))
	if !ok {
		return nil
	}
	required := int64(float64(requiredBytes) * safetyMargin)
	if avail < required {
		return &InsufficientSpaceError{Path: targetPath, RequiredBytes: required, AvailableBytes: avail}
	}
	return nil
}

// GetAvailableSpace returns free bytes on the filesystem holding path, or 0
// when unknown.
func GetAvailableSpace(path string) int64 {
	avail, _ := availableBytes(filepath.Dir(path))
	return avail
}

// IsInsufficientSpaceError reports whether err wraps an InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}
