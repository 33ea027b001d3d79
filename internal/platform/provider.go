package platform

import (
	"fmt"
	"runtime"
)

// Provider bundles the window backends for the current OS.
type Provider struct {
	Source  SnapshotSource
	Focuser Focuser
}

// ErrUnsupported is returned on unsupported platforms.
var ErrUnsupported = fmt.Errorf("support-roster has no window backend for %s/%s; supported: windows/amd64, windows/arm64 (use --replay elsewhere)", runtime.GOOS, runtime.GOARCH)

// NewProviderFunc is set by platform-specific packages via init().
// See internal/platform/win32/init.go for the Win32 registration.
var NewProviderFunc func() (*Provider, error)

// NewProvider returns a Provider for the current OS.
func NewProvider() (*Provider, error) {
	if NewProviderFunc == nil {
		return nil, ErrUnsupported
	}
	return NewProviderFunc()
}
