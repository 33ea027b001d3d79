package platform

import (
	"context"

	"github.com/mj1618/support-roster/internal/model"
)

// SnapshotSource enumerates the top-level windows of the desktop session.
type SnapshotSource interface {
	// Detect returns one record per top-level window. An error means the
	// snapshot is unusable and the caller should skip this poll.
	Detect(ctx context.Context) ([]model.RawWindow, error)
}

// Focuser brings a window to the foreground.
type Focuser interface {
	// Focus restores target if minimized and raises it. It reports false
	// with a nil error when the OS refused, which callers treat as a soft
	// failure.
	Focus(ctx context.Context, target model.FocusTarget, t model.EndpointType) (bool, error)
}
