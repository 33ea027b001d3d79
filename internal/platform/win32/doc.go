// Package win32 provides the Win32 window backend: top-level window
// enumeration through user32 and foreground activation for the roster's
// focus command.
package win32
