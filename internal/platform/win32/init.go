//go:build windows

package win32

import "github.com/mj1618/support-roster/internal/platform"

func init() {
	platform.NewProviderFunc = func() (*platform.Provider, error) {
		source := NewSource()
		return &platform.Provider{
			Source:  source,
			Focuser: NewFocuser(source),
		}, nil
	}
}
