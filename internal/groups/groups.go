// Package groups holds the user metadata that outlives any single endpoint:
// groups, and the stable-key maps for group, category, label and
// multi-session suffix assignments. Everything is keyed by stable key so it
// survives endpoint id churn and application restarts.
package groups

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/store"
)

// tableVersion is bumped when a table's JSON shape changes.
const tableVersion = 1

var (
	ErrGroupNotFound = errors.New("group not found")
	ErrGroupNotEmpty = errors.New("group is not empty")
	ErrDuplicateName = errors.New("group name already exists")
	ErrInvalidName   = errors.New("invalid group name")
)

// palette is cycled through for groups created without a color.
var palette = []string{"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a14f", "#edc948", "#b07aa1", "#ff9da7"}

// Metadata is what a new endpoint inherits for its stable key.
type Metadata struct {
	GroupID  string
	Category model.Category
	Label    string
}

// Store is the Group/Category store. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	backend store.Backend
	log     zerolog.Logger
	now     func() time.Time

	groups           map[string]*model.Group
	stableGroups     map[string]string
	stableCategories map[string]model.Category
	stableLabels     map[string]string
	multiSessions    map[string][]int
}

// Open loads every table from backend. A table that fails to load is logged
// and starts empty; Open itself never fails.
func Open(ctx context.Context, backend store.Backend, log zerolog.Logger) *Store {
	s := &Store{
		backend:          backend,
		log:              log,
		now:              time.Now,
		groups:           make(map[string]*model.Group),
		stableGroups:     make(map[string]string),
		stableCategories: make(map[string]model.Category),
		stableLabels:     make(map[string]string),
		multiSessions:    make(map[string][]int),
	}
	s.load(ctx, store.KeyGroups, &s.groups)
	s.load(ctx, store.KeyStableGroups, &s.stableGroups)
	s.load(ctx, store.KeyStableCategory, &s.stableCategories)
	s.load(ctx, store.KeyStableLabels, &s.stableLabels)
	s.load(ctx, store.KeyMultiSessions, &s.multiSessions)

	// Drop group mappings whose group no longer exists.
	for key, gid := range s.stableGroups {
		if _, ok := s.groups[gid]; !ok {
			delete(s.stableGroups, key)
		}
	}
	// Live membership is rebuilt as endpoints are seen again.
	for _, g := range s.groups {
		g.EndpointIDs = nil
	}
	return s
}

func (s *Store) load(ctx context.Context, key string, v any) {
	matched, err := store.LoadTable(ctx, s.backend, key, tableVersion, v)
	if err != nil {
		s.log.Warn().Err(err).Str("table", key).Msg("load failed, starting empty")
		return
	}
	if !matched {
		s.log.Info().Str("table", key).Msg("table version changed, merged onto defaults")
	}
}

// persist writes one table. Failures are logged; the in-memory state stays
// authoritative until the next successful save. The caller holds s.mu.
func (s *Store) persist(ctx context.Context, key string) {
	var v any
	switch key {
	case store.KeyGroups:
		v = s.groups
	case store.KeyStableGroups:
		v = s.stableGroups
	case store.KeyStableCategory:
		v = s.stableCategories
	case store.KeyStableLabels:
		v = s.stableLabels
	case store.KeyMultiSessions:
		v = s.multiSessions
	default:
		return
	}
	if err := store.SaveTable(ctx, s.backend, key, tableVersion, v); err != nil {
		s.log.Error().Err(err).Str("table", key).Msg("persist failed")
	}
}

// Metadata returns the persisted metadata for stableKey.
func (s *Store) Metadata(stableKey string) Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metadata{
		GroupID:  s.stableGroups[stableKey],
		Category: s.stableCategories[stableKey],
		Label:    s.stableLabels[stableKey],
	}
}

// Groups returns all groups ordered by creation time.
func (s *Store) Groups() []model.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, copyGroup(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Group returns the group with id.
func (s *Store) Group(id string) (model.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return model.Group{}, false
	}
	return copyGroup(g), true
}

// CreateGroup adds a group. An empty color picks the next palette entry.
func (s *Store) CreateGroup(ctx context.Context, name, color string) (model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.checkName(name, "")
	if err != nil {
		return model.Group{}, err
	}
	if color == "" {
		color = palette[len(s.groups)%len(palette)]
	}
	g := &model.Group{
		ID:          uuid.NewString(),
		Name:        name,
		EndpointIDs: []string{},
		Color:       color,
		CreatedAt:   s.now(),
	}
	s.groups[g.ID] = g
	s.persist(ctx, store.KeyGroups)
	return copyGroup(g), nil
}

// RenameGroup changes a group's name.
func (s *Store) RenameGroup(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	name, err := s.checkName(name, id)
	if err != nil {
		return err
	}
	g.Name = name
	s.persist(ctx, store.KeyGroups)
	return nil
}

// DeleteGroup removes a group and every stable-key mapping to it. A group
// with members is only deleted when force is set; otherwise nothing changes.
// Clearing GroupID on live endpoints is the caller's job.
func (s *Store) DeleteGroup(ctx context.Context, id string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	if n := s.memberCountLocked(g); n > 0 && !force {
		return fmt.Errorf("%w: %q has %d endpoints", ErrGroupNotEmpty, g.Name, n)
	}
	delete(s.groups, id)
	for key, gid := range s.stableGroups {
		if gid == id {
			delete(s.stableGroups, key)
		}
	}
	s.persist(ctx, store.KeyGroups)
	s.persist(ctx, store.KeyStableGroups)
	return nil
}

// memberCountLocked counts live members and persisted stable keys mapped to
// g, whichever is larger. Members whose windows are closed only exist as
// stable-key mappings.
func (s *Store) memberCountLocked(g *model.Group) int {
	mapped := 0
	for _, gid := range s.stableGroups {
		if gid == g.ID {
			mapped++
		}
	}
	return max(mapped, len(g.EndpointIDs))
}

// Assign makes groupID the only group of the endpoint, or removes it from
// every group when groupID is empty. The stable-key mapping follows.
func (s *Store) Assign(ctx context.Context, stableKey, endpointID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *model.Group
	if groupID != "" {
		var ok bool
		if target, ok = s.groups[groupID]; !ok {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		}
	}
	s.detachLocked(endpointID)
	if target != nil {
		target.EndpointIDs = append(target.EndpointIDs, endpointID)
		s.stableGroups[stableKey] = groupID
	} else {
		delete(s.stableGroups, stableKey)
	}
	s.persist(ctx, store.KeyGroups)
	s.persist(ctx, store.KeyStableGroups)
	return nil
}

// Attach records endpointID as a member of groupID without touching the
// stable-key map. Used when a new endpoint inherits a persisted group.
func (s *Store) Attach(ctx context.Context, groupID, endpointID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return
	}
	for _, id := range g.EndpointIDs {
		if id == endpointID {
			return
		}
	}
	s.detachLocked(endpointID)
	g.EndpointIDs = append(g.EndpointIDs, endpointID)
	s.persist(ctx, store.KeyGroups)
}

// Detach removes endpointID from whatever group lists it. The stable-key
// mapping is kept so a recreated endpoint rejoins the group.
func (s *Store) Detach(ctx context.Context, endpointID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detachLocked(endpointID) {
		s.persist(ctx, store.KeyGroups)
	}
}

func (s *Store) detachLocked(endpointID string) bool {
	changed := false
	for _, g := range s.groups {
		for i, id := range g.EndpointIDs {
			if id == endpointID {
				g.EndpointIDs = append(g.EndpointIDs[:i], g.EndpointIDs[i+1:]...)
				changed = true
				break
			}
		}
	}
	return changed
}

// SetCategory persists cat for stableKey. An empty category clears it.
func (s *Store) SetCategory(ctx context.Context, stableKey string, cat model.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cat == "" {
		delete(s.stableCategories, stableKey)
	} else {
		s.stableCategories[stableKey] = cat
	}
	s.persist(ctx, store.KeyStableCategory)
}

// SetLabel persists a custom label for stableKey. An empty label clears it.
func (s *Store) SetLabel(ctx context.Context, stableKey, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if label == "" {
		delete(s.stableLabels, stableKey)
	} else {
		s.stableLabels[stableKey] = label
	}
	s.persist(ctx, store.KeyStableLabels)
}

// ReserveSuffix records that base_n is in use by a concurrent session.
func (s *Store) ReserveSuffix(ctx context.Context, base string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.multiSessions[base] {
		if v == n {
			return
		}
	}
	s.multiSessions[base] = append(s.multiSessions[base], n)
	sort.Ints(s.multiSessions[base])
	s.persist(ctx, store.KeyMultiSessions)
}

// ReleaseSuffix forgets base_n.
func (s *Store) ReleaseSuffix(ctx context.Context, base string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.multiSessions[base]
	for i, v := range list {
		if v == n {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.multiSessions, base)
	} else {
		s.multiSessions[base] = list
	}
	s.persist(ctx, store.KeyMultiSessions)
}

// Suffixes returns the reserved suffixes of base in ascending order.
func (s *Store) Suffixes(base string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.multiSessions[base]...)
}

// checkName trims and validates name. selfID is excluded from the
// uniqueness check on rename.
func (s *Store) checkName(name, selfID string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > model.MaxGroupNameLen {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidName, model.MaxGroupNameLen)
	}
	for id, g := range s.groups {
		if id != selfID && strings.EqualFold(g.Name, name) {
			return "", fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	return name, nil
}

func copyGroup(g *model.Group) model.Group {
	c := *g
	c.EndpointIDs = append([]string{}, g.EndpointIDs...)
	return c
}
