package cmd

import (
	"fmt"
	"time"

	"github.com/mj1618/support-roster/internal/model"
)

func nowUnix() int64 {
	return time.Now().Unix()
}

// filterStatus keeps endpoints with the given status. "live" matches
// connected and reconnected; empty keeps everything.
func filterStatus(eps []model.Endpoint, status string) ([]model.Endpoint, error) {
	switch status {
	case "":
		return eps, nil
	case "live", string(model.StatusConnected), string(model.StatusReconnected), string(model.StatusDisconnected):
	default:
		return nil, fmt.Errorf("unknown status: %q (expected connected, reconnected, disconnected, or live)", status)
	}
	out := []model.Endpoint{}
	for _, ep := range eps {
		if status == "live" && ep.Status.IsLive() || string(ep.Status) == status {
			out = append(out, ep)
		}
	}
	return out, nil
}
