package model

// RawWindow is one OS window as returned by a snapshot source. It carries no
// identity beyond Handle, which the OS may reuse once the window is gone.
type RawWindow struct {
	PID         int    `yaml:"pid"                    json:"pid"`
	Handle      uint64 `yaml:"handle"                 json:"handle"`
	ProcessName string `yaml:"process"                json:"process"`
	Title       string `yaml:"title"                  json:"title"`
	Minimized   bool   `yaml:"minimized,omitempty"    json:"minimized,omitempty"`
	Visible     bool   `yaml:"visible"                json:"visible"`
}

// FocusTarget identifies the window to bring to the foreground. Handle wins
// over PID when both are set.
type FocusTarget struct {
	PID    int    `yaml:"pid,omitempty"    json:"pid,omitempty"`
	Handle uint64 `yaml:"handle,omitempty" json:"handle,omitempty"`
}

// IsZero reports whether the target names nothing.
func (t FocusTarget) IsZero() bool {
	return t.PID == 0 && t.Handle == 0
}
