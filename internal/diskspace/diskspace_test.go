package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckAvailableSpace(t *testing.T) {
	target := filepath.Join(t.TempDir(), "archive.zip")

	if err := CheckAvailableSpace(target, 1024, DefaultSafetyMargin); err != nil {
		t.Errorf("expected room for 1 KB, got %v", err)
	}

	avail := GetAvailableSpace(target)
	if avail == 0 {
		t.Skip("free space unknown on this filesystem")
	}
	err := CheckAvailableSpace(target, avail, DefaultSafetyMargin)
	if !IsInsufficientSpaceError(err) {
		t.Fatalf("expected InsufficientSpaceError, got %v", err)
	}
	var ise *InsufficientSpaceError
	if !errors.As(err, &ise) || ise.RequiredBytes <= avail || ise.Path != target {
		t.Errorf("unexpected error fields %+v", ise)
	}
}

func TestCheckAvailableSpace_UnknownFilesystemPasses(t *testing.T) {
	if err := CheckAvailableSpace("/definitely/not/a/dir/file", 1<<60, DefaultSafetyMargin); err != nil {
		t.Errorf("unknown free space must not block, got %v", err)
	}
	if GetAvailableSpace("/definitely/not/a/dir/file") != 0 {
		t.Error("expected 0 for a missing directory")
	}
}

func TestIsInsufficientSpaceError(t *testing.T) {
	base := &InsufficientSpaceError{Path: "/tmp/x", RequiredBytes: 10, AvailableBytes: 1}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct", base, true},
		{"wrapped", fmt.Errorf("download: %w", base), true},
		{"other", errors.New("disk full"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := IsInsufficientSpaceError(tt.err); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestInsufficientSpaceErrorMessage(t *testing.T) {
	err := &InsufficientSpaceError{Path: "/out/a.zip", RequiredBytes: 2 * 1024 * 1024, AvailableBytes: 512}
	msg := err.Error()
	for _, want := range []string{"/out/a.zip", "2.00 MB", "512 B"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
