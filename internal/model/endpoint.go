package model

import (
	"fmt"
	"strings"
	"time"
)

// EndpointType is the remote-support software that owns a window.
type EndpointType string

const (
	TypeEzHelp     EndpointType = "ezhelp"
	TypeTeamViewer EndpointType = "teamviewer"
	TypeUnknown    EndpointType = "unknown"
)

// ParseEndpointType converts a flag or persisted value to an EndpointType.
func ParseEndpointType(s string) EndpointType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(TypeEzHelp):
		return TypeEzHelp
	case string(TypeTeamViewer):
		return TypeTeamViewer
	default:
		return TypeUnknown
	}
}

// Status is the connection state of a roster endpoint.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnected  Status = "reconnected"
	StatusDisconnected Status = "disconnected"
)

// IsLive reports whether the status counts as a live session.
func (s Status) IsLive() bool {
	return s == StatusConnected || s == StatusReconnected
}

// Category is a fixed user-assigned tag.
type Category string

const (
	CategoryUrgent     Category = "urgent"
	CategoryInProgress Category = "in_progress"
	CategoryWaiting    Category = "waiting"
	CategoryDone       Category = "done"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryUrgent, CategoryInProgress, CategoryWaiting, CategoryDone}

// ParseCategory converts a string to a Category. An empty string clears the
// category and returns "", nil.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return "", nil
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category: %q (expected urgent, in_progress, waiting, or done)", s)
}

// ParsedFields holds the values parsed out of a window title.
type ParsedFields struct {
	ComputerName string `yaml:"computer"           json:"computer"`
	IPAddress    string `yaml:"ip,omitempty"       json:"ip,omitempty"`
	OperatorID   string `yaml:"operator,omitempty" json:"operator,omitempty"`
}

// Identity is a classified, valid window ready for reconciliation.
type Identity struct {
	Window RawWindow
	Type   EndpointType
	ParsedFields
}

// StableKey is the identity used for persisted metadata and conflict detection.
func (id Identity) StableKey() string {
	return StableKey(id.Type, id.ComputerName)
}

// MatchingKey is the key for reconnection history.
func (id Identity) MatchingKey() string {
	return MatchingKey(id.Type, id.ComputerName)
}

// StableKey formats "<type>_<computerName>".
func StableKey(t EndpointType, computerName string) string {
	return fmt.Sprintf("%s_%s", t, computerName)
}

// MatchingKey is currently the same string as StableKey.
func MatchingKey(t EndpointType, computerName string) string {
	return StableKey(t, computerName)
}

// SuffixedKey returns the key for the n-th concurrent session of base.
func SuffixedKey(base string, n int) string {
	return fmt.Sprintf("%s_%d", base, n)
}

// Endpoint is one tracked remote-support session shown in the roster.
type Endpoint struct {
	ID           string       `yaml:"id"                 json:"id"`
	PID          int          `yaml:"pid"                json:"pid"`
	Handle       uint64       `yaml:"handle"             json:"handle"`
	Type         EndpointType `yaml:"type"               json:"type"`
	ComputerName string       `yaml:"computer"           json:"computer"`
	IPAddress    string       `yaml:"ip,omitempty"       json:"ip,omitempty"`
	OperatorID   string       `yaml:"operator,omitempty" json:"operator,omitempty"`
	Title        string       `yaml:"title,omitempty"    json:"title,omitempty"`
	Status       Status       `yaml:"status"             json:"status"`
	Minimized    bool         `yaml:"minimized,omitempty" json:"minimized,omitempty"`
	Hidden       bool         `yaml:"hidden,omitempty"   json:"hidden,omitempty"`

	// StableKey is the key this endpoint is registered under, including any
	// multi-session suffix.
	StableKey string `yaml:"stable_key" json:"stable_key"`

	CreatedAt      time.Time  `yaml:"created_at"                json:"created_at"`
	LastSeen       time.Time  `yaml:"last_seen"                 json:"last_seen"`
	DisconnectedAt *time.Time `yaml:"disconnected_at,omitempty" json:"disconnected_at,omitempty"`

	CustomLabel string   `yaml:"label,omitempty"    json:"label,omitempty"`
	Category    Category `yaml:"category,omitempty" json:"category,omitempty"`
	GroupID     string   `yaml:"group_id,omitempty" json:"group_id,omitempty"`
	MultipleID  int      `yaml:"multiple_id,omitempty" json:"multiple_id,omitempty"`

	ConflictProtectedUntil *time.Time `yaml:"protected_until,omitempty" json:"protected_until,omitempty"`
}

// DisplayName is the label shown in the roster.
func (e Endpoint) DisplayName() string {
	if e.CustomLabel != "" {
		return e.CustomLabel
	}
	if e.MultipleID > 0 {
		return fmt.Sprintf("%s (%d)", e.ComputerName, e.MultipleID)
	}
	return e.ComputerName
}

// Protected reports whether the endpoint holds an unexpired conflict lease.
func (e Endpoint) Protected(now time.Time) bool {
	return e.ConflictProtectedUntil != nil && e.ConflictProtectedUntil.After(now)
}

// ApplyWindow merges the connection fields of a fresh record into e.
// Identity, user metadata and the stable key are left alone.
func (e *Endpoint) ApplyWindow(id Identity, now time.Time) {
	e.PID = id.Window.PID
	e.Handle = id.Window.Handle
	e.Title = id.Window.Title
	e.Minimized = id.Window.Minimized
	e.Hidden = !id.Window.Visible
	if id.IPAddress != "" {
		e.IPAddress = id.IPAddress
	}
	if id.OperatorID != "" {
		e.OperatorID = id.OperatorID
	}
	e.LastSeen = now
}

// HistoryEntry records the last known live session for a matching key.
type HistoryEntry struct {
	EndpointID       string     `yaml:"endpoint_id"                 json:"endpoint_id"`
	CurrentPID       int        `yaml:"current_pid"                 json:"current_pid"`
	OriginalPID      int        `yaml:"original_pid"                json:"original_pid"`
	Status           Status     `yaml:"status"                      json:"status"`
	LastSeen         time.Time  `yaml:"last_seen"                   json:"last_seen"`
	DisconnectedTime *time.Time `yaml:"disconnected_time,omitempty" json:"disconnected_time,omitempty"`
}

// MaxGroupNameLen is the longest accepted group name, in runes.
const MaxGroupNameLen = 50

// Group is a user-defined set of endpoints.
type Group struct {
	ID          string    `yaml:"id"           json:"id"`
	Name        string    `yaml:"name"         json:"name"`
	EndpointIDs []string  `yaml:"endpoint_ids" json:"endpoint_ids"`
	Color       string    `yaml:"color"        json:"color"`
	CreatedAt   time.Time `yaml:"created_at"   json:"created_at"`
}
