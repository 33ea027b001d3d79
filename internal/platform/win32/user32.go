//go:build windows

package win32

import (
	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procIsIconic             = user32.NewProc("IsIconic")
	procIsWindow             = user32.NewProc("IsWindow")
	procShowWindow           = user32.NewProc("ShowWindow")
	procSetForegroundWindow  = user32.NewProc("SetForegroundWindow")
	procBringWindowToTop     = user32.NewProc("BringWindowToTop")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
	procGetWindow            = user32.NewProc("GetWindow")
)

const (
	swShow    = 5
	swRestore = 9

	gwOwner = 4
)

func isIconic(hwnd windows.HWND) bool {
	r, _, _ := procIsIconic.Call(uintptr(hwnd))
	return r != 0
}

func isWindow(hwnd windows.HWND) bool {
	r, _, _ := procIsWindow.Call(uintptr(hwnd))
	return r != 0
}

func showWindow(hwnd windows.HWND, cmd int) {
	_, _, _ = procShowWindow.Call(uintptr(hwnd), uintptr(cmd))
}

func setForegroundWindow(hwnd windows.HWND) bool {
	r, _, _ := procSetForegroundWindow.Call(uintptr(hwnd))
	return r != 0
}

func bringWindowToTop(hwnd windows.HWND) {
	_, _, _ = procBringWindowToTop.Call(uintptr(hwnd))
}

// hasOwner reports whether hwnd is an owned popup such as a dialog.
func hasOwner(hwnd windows.HWND) bool {
	r, _, _ := procGetWindow.Call(uintptr(hwnd), gwOwner)
	return r != 0
}

func windowText(hwnd windows.HWND) string {
	n, _, _ := procGetWindowTextLengthW.Call(uintptr(hwnd))
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	l, err := windows.GetWindowText(hwnd, &buf[0], int32(len(buf)))
	if err != nil || l == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:l])
}
