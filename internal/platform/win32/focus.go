//go:build windows

package win32

import (
	"context"

	"golang.org/x/sys/windows"

	"github.com/mj1618/support-roster/internal/model"
)

// Win32Focuser restores and raises windows.
type Win32Focuser struct {
	source *Win32Source
}

func NewFocuser(source *Win32Source) *Win32Focuser {
	return &Win32Focuser{source: source}
}

func (f *Win32Focuser) Focus(ctx context.Context, target model.FocusTarget, t model.EndpointType) (bool, error) {
	hwnd := windows.HWND(target.Handle)
	if hwnd == 0 || !isWindow(hwnd) {
		// The handle is stale; fall back to the process's first visible window.
		var err error
		if hwnd, err = f.windowForPID(ctx, target.PID); err != nil {
			return false, err
		}
		if hwnd == 0 {
			return false, nil
		}
	}

	if isIconic(hwnd) {
		showWindow(hwnd, swRestore)
	} else if !windows.IsWindowVisible(hwnd) && t == model.TypeTeamViewer {
		// TeamViewer hides session windows instead of minimizing them.
		showWindow(hwnd, swShow)
	}
	bringWindowToTop(hwnd)
	return setForegroundWindow(hwnd), nil
}

func (f *Win32Focuser) windowForPID(ctx context.Context, pid int) (windows.HWND, error) {
	if pid == 0 {
		return 0, nil
	}
	wins, err := f.source.Detect(ctx)
	if err != nil {
		return 0, err
	}
	for _, w := range wins {
		if w.PID == pid && w.Visible {
			return windows.HWND(w.Handle), nil
		}
	}
	for _, w := range wins {
		if w.PID == pid {
			return windows.HWND(w.Handle), nil
		}
	}
	return 0, nil
}
