// Package replay is a snapshot source that plays back recorded window
// batches from a YAML file. It stands in for the Win32 backend on other
// operating systems and in tests.
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mj1618/support-roster/internal/model"
)

// Batch is one recorded poll. A non-empty Error makes Detect fail for that
// poll, which exercises the skip-on-error path.
type Batch struct {
	Windows []model.RawWindow `yaml:"windows"`
	Error   string            `yaml:"error,omitempty"`
}

// Script is the fixture file format.
type Script struct {
	// Loop restarts from the first batch after the last one. Otherwise the
	// last batch repeats.
	Loop    bool    `yaml:"loop"`
	Batches []Batch `yaml:"batches"`
}

// Source replays a Script. It also implements platform.Focuser: focusing
// succeeds when the target is present in the most recent batch.
type Source struct {
	mu      sync.Mutex
	script  Script
	next    int
	last    []model.RawWindow
	focused []model.FocusTarget
}

// Load reads a Script from path.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a Script from YAML.
func Parse(data []byte) (*Source, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse replay file: %w", err)
	}
	if len(s.Batches) == 0 {
		return nil, errors.New("replay file has no batches")
	}
	return New(s), nil
}

func New(s Script) *Source {
	return &Source{script: s}
}

func (s *Source) Detect(ctx context.Context) ([]model.RawWindow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.script.Batches) == 0 {
		return nil, nil
	}
	idx := s.next
	if idx >= len(s.script.Batches) {
		if s.script.Loop {
			idx = 0
		} else {
			idx = len(s.script.Batches) - 1
		}
	}
	s.next = idx + 1

	b := s.script.Batches[idx]
	if b.Error != "" {
		return nil, fmt.Errorf("replay batch %d: %s", idx, b.Error)
	}
	s.last = append([]model.RawWindow(nil), b.Windows...)
	return append([]model.RawWindow(nil), b.Windows...), nil
}

// Push appends a batch to the script.
func (s *Source) Push(b Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script.Batches = append(s.script.Batches, b)
}

func (s *Source) Focus(ctx context.Context, target model.FocusTarget, _ model.EndpointType) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = append(s.focused, target)
	for _, w := range s.last {
		if target.Handle != 0 && w.Handle == target.Handle {
			return true, nil
		}
		if target.Handle == 0 && target.PID != 0 && w.PID == target.PID {
			return true, nil
		}
	}
	return false, nil
}

// Focused returns every focus request received, oldest first.
func (s *Source) Focused() []model.FocusTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.FocusTarget(nil), s.focused...)
}
