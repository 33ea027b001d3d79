package model

import (
	"fmt"
	"time"
)

// ChangeType represents the kind of roster change.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeRemoved ChangeType = "removed"
	ChangeChanged ChangeType = "changed"
)

// Change is a single roster change, either pushed by the registry or
// computed between two roster reads.
type Change struct {
	Type     ChangeType           `yaml:"type"               json:"type"`
	TS       int64                `yaml:"ts"                 json:"ts"`
	ID       string               `yaml:"id"                 json:"id"`
	Endpoint *Endpoint            `yaml:"endpoint,omitempty" json:"endpoint,omitempty"` // For added/changed: the current state
	Changes  map[string][2]string `yaml:"changes,omitempty"  json:"changes,omitempty"`  // For changed: field diffs
}

// DiffEndpoints compares two roster reads and returns the changes.
// Endpoints are matched by ID.
func DiffEndpoints(prev, curr []Endpoint) []Change {
	prevMap := make(map[string]Endpoint, len(prev))
	for _, ep := range prev {
		prevMap[ep.ID] = ep
	}
	currMap := make(map[string]Endpoint, len(curr))
	for _, ep := range curr {
		currMap[ep.ID] = ep
	}

	var changes []Change
	now := time.Now().Unix()

	for _, ep := range curr {
		prevEp, existed := prevMap[ep.ID]
		epCopy := ep
		if !existed {
			changes = append(changes, Change{
				Type:     ChangeAdded,
				TS:       now,
				ID:       ep.ID,
				Endpoint: &epCopy,
			})
			continue
		}
		if diffs := DiffFields(prevEp, ep); len(diffs) > 0 {
			changes = append(changes, Change{
				Type:     ChangeChanged,
				TS:       now,
				ID:       ep.ID,
				Endpoint: &epCopy,
				Changes:  diffs,
			})
		}
	}

	for _, ep := range prev {
		if _, exists := currMap[ep.ID]; !exists {
			changes = append(changes, Change{
				Type: ChangeRemoved,
				TS:   now,
				ID:   ep.ID,
			})
		}
	}

	return changes
}

// DiffFields compares two states of the same endpoint and returns the
// user-visible fields that changed. LastSeen is ignored.
func DiffFields(prev, curr Endpoint) map[string][2]string {
	diffs := make(map[string][2]string)

	if prev.Status != curr.Status {
		diffs["status"] = [2]string{string(prev.Status), string(curr.Status)}
	}
	if prev.Handle != curr.Handle {
		diffs["handle"] = [2]string{fmt.Sprintf("%d", prev.Handle), fmt.Sprintf("%d", curr.Handle)}
	}
	if prev.PID != curr.PID {
		diffs["pid"] = [2]string{fmt.Sprintf("%d", prev.PID), fmt.Sprintf("%d", curr.PID)}
	}
	if prev.IPAddress != curr.IPAddress {
		diffs["ip"] = [2]string{prev.IPAddress, curr.IPAddress}
	}
	if prev.OperatorID != curr.OperatorID {
		diffs["operator"] = [2]string{prev.OperatorID, curr.OperatorID}
	}
	if prev.CustomLabel != curr.CustomLabel {
		diffs["label"] = [2]string{prev.CustomLabel, curr.CustomLabel}
	}
	if prev.Category != curr.Category {
		diffs["category"] = [2]string{string(prev.Category), string(curr.Category)}
	}
	if prev.GroupID != curr.GroupID {
		diffs["group"] = [2]string{prev.GroupID, curr.GroupID}
	}
	if prev.Minimized != curr.Minimized {
		diffs["minimized"] = [2]string{
			fmt.Sprintf("%v", prev.Minimized),
			fmt.Sprintf("%v", curr.Minimized),
		}
	}

	if len(diffs) == 0 {
		return nil
	}
	return diffs
}
