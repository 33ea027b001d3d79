package decision

import (
	"strings"
)

// ChoiceKind is the operator's answer to a conflict prompt.
type ChoiceKind string

const (
	KeepExisting   ChoiceKind = "keep_existing"
	UpdateExisting ChoiceKind = "update_existing"
	Different      ChoiceKind = "different"
)

// Choice is a resolved prompt. SelectedID optionally names which of several
// same-computer endpoints to keep.
type Choice struct {
	Kind       ChoiceKind `yaml:"kind"                  json:"kind"`
	SelectedID string     `yaml:"selected_id,omitempty" json:"selected_id,omitempty"`
}

func (c Choice) String() string {
	if c.SelectedID != "" {
		return string(c.Kind) + ":" + c.SelectedID
	}
	return string(c.Kind)
}

// ParseChoice accepts "keep_existing", "keep_existing:<id>", "update_existing",
// "different" and the short forms "keep", "update" and "new". Anything else is
// returned as Different with ok false.
func ParseChoice(s string) (c Choice, ok bool) {
	s = strings.TrimSpace(s)
	kind, selected, _ := strings.Cut(s, ":")
	switch strings.ToLower(kind) {
	case "keep_existing", "keep", "k":
		return Choice{Kind: KeepExisting, SelectedID: strings.TrimSpace(selected)}, true
	case "update_existing", "update", "u":
		return Choice{Kind: UpdateExisting}, true
	case "different", "new", "d":
		return Choice{Kind: Different}, true
	}
	return Choice{Kind: Different}, false
}
