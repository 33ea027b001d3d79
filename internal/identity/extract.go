// Package identity classifies raw OS windows by remote-support product and
// parses the computer name, IP address and operator id out of their titles.
//
// Everything here is pure: no I/O, no state.
package identity

import (
	"net/netip"
	"strings"

	"github.com/mj1618/support-roster/internal/model"
)

// Classify returns the endpoint type of w, or TypeUnknown.
func Classify(w model.RawWindow) model.EndpointType {
	proc := normalizeProcess(w.ProcessName)
	for _, sig := range signatures {
		if !containsString(sig.Processes, proc) {
			continue
		}
		if sig.Title.MatchString(w.Title) {
			return sig.Type
		}
	}
	return model.TypeUnknown
}

// Parse extracts the fields of a title for the given type. Fields that do not
// parse are left empty.
func Parse(t model.EndpointType, title string) model.ParsedFields {
	var f model.ParsedFields
	if name, ok := firstMatch(computerRules[t], title); ok && !strings.EqualFold(name, "teamviewer") {
		f.ComputerName = name
	}
	if ip, ok := firstMatch(ipRules[t], title); ok && validIPv4(ip) {
		f.IPAddress = ip
	}
	if op, ok := firstMatch(operatorRules[t], title); ok {
		f.OperatorID = op
	}
	return f
}

// Extract classifies and parses w. It returns false when the window is not an
// actionable endpoint: unknown type, no computer name, or a TypeA title
// without an IP address.
func Extract(w model.RawWindow) (model.Identity, bool) {
	t := Classify(w)
	if t == model.TypeUnknown {
		return model.Identity{}, false
	}
	f := Parse(t, w.Title)
	if f.ComputerName == "" {
		return model.Identity{}, false
	}
	if t == model.TypeEzHelp && f.IPAddress == "" {
		return model.Identity{}, false
	}
	return model.Identity{Window: w, Type: t, ParsedFields: f}, true
}

// ExtractAll returns the valid identities in windows, keeping the first
// record seen for each window handle.
func ExtractAll(windows []model.RawWindow) []model.Identity {
	seen := make(map[uint64]bool, len(windows))
	var out []model.Identity
	for _, w := range windows {
		if w.Handle != 0 {
			if seen[w.Handle] {
				continue
			}
			seen[w.Handle] = true
		}
		if id, ok := Extract(w); ok {
			out = append(out, id)
		}
	}
	return out
}

func validIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
