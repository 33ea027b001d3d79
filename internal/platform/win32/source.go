//go:build windows

package win32

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/windows"

	"github.com/mj1618/support-roster/internal/model"
)

// enumMu serialises EnumWindows calls; the callback is shared.
var (
	enumMu       sync.Mutex
	enumCallback = windows.NewCallback(collectWindow)
)

func collectWindow(hwnd windows.HWND, lparam uintptr) uintptr {
	out := (*[]windows.HWND)(unsafe.Pointer(lparam))
	*out = append(*out, hwnd)
	return 1
}

// Win32Source enumerates top-level windows with EnumWindows.
type Win32Source struct{}

func NewSource() *Win32Source {
	return &Win32Source{}
}

func (s *Win32Source) Detect(ctx context.Context) ([]model.RawWindow, error) {
	handles, err := topLevelWindows()
	if err != nil {
		return nil, err
	}

	names := make(map[uint32]string)
	windowsOut := make([]model.RawWindow, 0, len(handles))
	for _, hwnd := range handles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if hasOwner(hwnd) {
			continue
		}
		title := windowText(hwnd)
		if title == "" {
			continue
		}
		var pid uint32
		if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil || pid == 0 {
			continue
		}
		name, ok := names[pid]
		if !ok {
			name = processName(ctx, pid)
			names[pid] = name
		}
		windowsOut = append(windowsOut, model.RawWindow{
			PID:         int(pid),
			Handle:      uint64(hwnd),
			ProcessName: name,
			Title:       title,
			Minimized:   isIconic(hwnd),
			Visible:     windows.IsWindowVisible(hwnd),
		})
	}
	return windowsOut, nil
}

func topLevelWindows() ([]windows.HWND, error) {
	enumMu.Lock()
	defer enumMu.Unlock()
	var handles []windows.HWND
	if err := windows.EnumWindows(enumCallback, unsafe.Pointer(&handles)); err != nil {
		return nil, fmt.Errorf("enumerate windows: %w", err)
	}
	return handles, nil
}

// processName returns the image name of pid, or "" if the process has
// exited or is not accessible.
func processName(ctx context.Context, pid uint32) string {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ""
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return ""
	}
	return name
}
