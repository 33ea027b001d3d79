package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/mj1618/support-roster/internal/decision"
	"github.com/mj1618/support-roster/internal/model"
)

// Format represents the output format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// OutputFormat is the current output format, set by the root command's --format flag.
var OutputFormat Format = FormatYAML

// PrettyOutput enables pretty-printing for JSON output.
var PrettyOutput bool

// Writer is where Print writes. Tests swap it for a buffer.
var Writer io.Writer = os.Stdout

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatYAML, FormatJSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s (use yaml or json)", s)
	}
}

// IsOutputPiped reports whether stdout is not a terminal.
func IsOutputPiped() bool {
	fd := os.Stdout.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// RosterResult is the top-level output of the `list` command.
type RosterResult struct {
	TS        int64              `yaml:"ts"                  json:"ts"`
	Endpoints []model.Endpoint   `yaml:"endpoints"           json:"endpoints"`
	Groups    []model.Group      `yaml:"groups,omitempty"    json:"groups,omitempty"`
	Pending   []*decision.Ticket `yaml:"pending,omitempty"   json:"pending,omitempty"`
}

// NewRosterResult stamps a roster listing with the current time.
func NewRosterResult(eps []model.Endpoint, groups []model.Group, pending []*decision.Ticket) RosterResult {
	if eps == nil {
		eps = []model.Endpoint{}
	}
	return RosterResult{
		TS:        time.Now().Unix(),
		Endpoints: eps,
		Groups:    groups,
		Pending:   pending,
	}
}

// WindowsResult is the output of `list --raw`.
type WindowsResult struct {
	TS      int64             `yaml:"ts"      json:"ts"`
	Windows []model.RawWindow `yaml:"windows" json:"windows"`
}

// ActionResult reports a single roster command.
type ActionResult struct {
	OK       bool            `yaml:"ok"                 json:"ok"`
	Action   string          `yaml:"action"             json:"action"`
	Endpoint *model.Endpoint `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Group    *model.Group    `yaml:"group,omitempty"    json:"group,omitempty"`
	Choice   string          `yaml:"choice,omitempty"   json:"choice,omitempty"`
	Error    string          `yaml:"error,omitempty"    json:"error,omitempty"`
}

// Print serializes v in the current output format.
func Print(v interface{}) error {
	switch OutputFormat {
	case FormatJSON:
		if PrettyOutput {
			return PrintPrettyJSON(v)
		}
		return PrintJSON(v)
	case FormatYAML:
		return PrintYAML(v)
	default:
		return fmt.Errorf("unsupported output format: %s", OutputFormat)
	}
}

// PrintJSON serializes v as compact single-line JSON.
func PrintJSON(v interface{}) error {
	enc := json.NewEncoder(Writer)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

// PrintPrettyJSON serializes v as indented JSON.
func PrintPrettyJSON(v interface{}) error {
	enc := json.NewEncoder(Writer)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

// PrintYAML serializes v as YAML.
func PrintYAML(v interface{}) error {
	enc := yaml.NewEncoder(Writer)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}
	return enc.Close()
}

// Marshal renders v in the current output format, for callers that need
// bytes instead of a stream.
func Marshal(v interface{}) ([]byte, error) {
	if OutputFormat == FormatJSON {
		return json.Marshal(v)
	}
	return yaml.Marshal(v)
}
