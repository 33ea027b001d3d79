package identity

import (
	"regexp"
	"strings"

	"github.com/mj1618/support-roster/internal/model"
)

// signature recognises the windows of one remote-support product.
type signature struct {
	Type      model.EndpointType
	Processes []string // lower-case image names, ".exe" stripped
	Title     *regexp.Regexp
}

// signatures are tried in order; the first match wins.
var signatures = []signature{
	{
		Type:      model.TypeEzHelp,
		Processes: []string{"ezhelpviewer", "ezhelp"},
		Title:     regexp.MustCompile(`(?i)ezhelp`),
	},
	{
		Type:      model.TypeTeamViewer,
		Processes: []string{"teamviewer"},
		Title:     regexp.MustCompile(`(?i)\s-\s*TeamViewer\s*$`),
	},
}

// fieldRule extracts one field from a title. Group 1 of Pattern is the value.
type fieldRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Rules per field are ordered: more specific formats (such as the locked
// qualifier) come before the bare format they would otherwise shadow.
var computerRules = map[model.EndpointType][]fieldRule{
	model.TypeEzHelp: {
		{"locked", regexp.MustCompile(`(?i)^ezhelp\s*-\s*(.+?)\s*\[locked\]`)},
		{"bare", regexp.MustCompile(`(?i)^ezhelp\s*-\s*([^()\[\]]+?)\s*\(`)},
		{"legacy", regexp.MustCompile(`(?i)^([^()\s]+)\s*\([^)]*\)\s*-\s*ezhelp`)},
	},
	model.TypeTeamViewer: {
		{"locked", regexp.MustCompile(`(?i)^(.+?)\s*\[locked\]\s*-\s*TeamViewer\s*$`)},
		{"with-id", regexp.MustCompile(`(?i)^(.+?)\s*-\s*\d[\d ]{6,}\d\s*-\s*TeamViewer\s*$`)},
		{"bare", regexp.MustCompile(`(?i)^(.+?)\s*-\s*TeamViewer\s*$`)},
	},
}

var ipRules = map[model.EndpointType][]fieldRule{
	model.TypeEzHelp: {
		{"parenthesised", regexp.MustCompile(`\(\s*(\d{1,3}(?:\.\d{1,3}){3})\s*\)`)},
		{"labelled", regexp.MustCompile(`(?i)\bIP\s*:\s*(\d{1,3}(?:\.\d{1,3}){3})`)},
	},
}

var operatorRules = map[model.EndpointType][]fieldRule{
	model.TypeEzHelp: {
		{"labelled", regexp.MustCompile(`(?i)operator\s*:\s*([^\s\]]+)`)},
		{"bracketed", regexp.MustCompile(`\[op:([^\]\s]+)\]`)},
	},
}

// firstMatch returns the first non-empty capture from rules.
func firstMatch(rules []fieldRule, title string) (string, bool) {
	for _, r := range rules {
		m := r.Pattern.FindStringSubmatch(title)
		if len(m) < 2 {
			continue
		}
		if v := strings.TrimSpace(m[1]); v != "" {
			return v, true
		}
	}
	return "", false
}

// normalizeProcess lower-cases an image name and strips any directory and
// ".exe" suffix.
func normalizeProcess(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".exe")
}
