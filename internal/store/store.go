// Package store persists small versioned key-value blobs, one per logical
// table. Tables are loaded eagerly at startup and written back after every
// mutation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Fixed storage keys for each logical table.
const (
	KeyGroups         = "groups"
	KeyStableGroups   = "stablekey_groups"
	KeyStableCategory = "stablekey_categories"
	KeyStableLabels   = "stablekey_labels"
	KeyMultiSessions  = "multi_sessions"
	KeyHistory        = "connection_history"
)

// ErrNotFound is returned by Backend.Load for a key that was never saved.
var ErrNotFound = errors.New("not found")

// Backend stores opaque blobs by key.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Close() error
}

// envelope is the on-disk form of every table.
type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// LoadTable decodes the table stored at key into v. v must already hold the
// defaults: a missing key leaves it untouched, and a blob written by another
// version is merged onto it field by field rather than rejected.
// It reports whether the stored version matched.
func LoadTable(ctx context.Context, b Backend, key string, version int, v any) (bool, error) {
	raw, err := b.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("decode %s envelope: %w", key, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return env.Version == version, nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		if env.Version != version {
			// An incompatible older shape: keep the defaults.
			return false, nil
		}
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return env.Version == version, nil
}

// SaveTable encodes v under key with the given version.
func SaveTable(ctx context.Context, b Backend, key string, version int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	raw, err := json.Marshal(envelope{Version: version, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", key, err)
	}
	if err := b.Save(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Memory is an in-process Backend, used by tests and --no-persist runs.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
	// FailSaves makes every Save return an error.
	FailSaves bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return errors.New("memory backend: save disabled")
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Close() error { return nil }
