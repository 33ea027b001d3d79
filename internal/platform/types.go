package platform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mj1618/support-roster/internal/model"
)

// ListOptions filters raw window listings.
type ListOptions struct {
	PID     int    // Filter by process ID (0 = unset)
	Process string // Filter by process image name, case-insensitive
	Title   string // Filter by title substring, case-insensitive
	Visible bool   // Only include visible windows
}

// FilterWindows returns the windows matching opts, preserving order.
func FilterWindows(windows []model.RawWindow, opts ListOptions) []model.RawWindow {
	var out []model.RawWindow
	proc := strings.ToLower(opts.Process)
	title := strings.ToLower(opts.Title)
	for _, w := range windows {
		if opts.PID != 0 && w.PID != opts.PID {
			continue
		}
		if proc != "" && !strings.Contains(strings.ToLower(w.ProcessName), proc) {
			continue
		}
		if title != "" && !strings.Contains(strings.ToLower(w.Title), title) {
			continue
		}
		if opts.Visible && !w.Visible {
			continue
		}
		out = append(out, w)
	}
	return out
}

// ParseHandle parses a window handle given in decimal or 0x-prefixed hex.
func ParseHandle(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid handle: empty")
	}
	base := 10
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		s, base = rest, 16
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return v, nil
}
