// Package registry is the system of record for roster endpoints: the
// endpoint table, the stable-key index used for conflict detection, and the
// connection history used to recognise reconnections.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/store"
)

const historyVersion = 1

var ErrNotFound = errors.New("endpoint not found")

// MetadataSink is told when an endpoint leaves the roster so group
// membership and multi-session suffixes can be released.
type MetadataSink interface {
	Detach(ctx context.Context, endpointID string)
	ReleaseSuffix(ctx context.Context, base string, n int)
}

type Options struct {
	// Retention is how long an ungrouped disconnected endpoint stays listed.
	Retention time.Duration
	// HistoryTTL bounds how long history for a gone endpoint is kept.
	HistoryTTL time.Duration
	// Backend persists connection history. Nil keeps it in memory only.
	Backend store.Backend
	Sink    MetadataSink
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Registry is safe for concurrent use. All mutations are serialised by mu.
type Registry struct {
	mu   sync.Mutex
	opts Options
	log  zerolog.Logger

	endpoints  map[string]*model.Endpoint
	stableKeys map[string]string // stable key (incl. suffix) -> endpoint id
	history    map[string]*model.HistoryEntry
	historyKey map[string]string // endpoint id -> matching key
	dirty      bool

	subs    map[int]chan model.Change
	nextSub int
}

func New(ctx context.Context, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * time.Second
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = 7 * 24 * time.Hour
	}
	r := &Registry{
		opts:       opts,
		log:        opts.Logger,
		endpoints:  make(map[string]*model.Endpoint),
		stableKeys: make(map[string]string),
		history:    make(map[string]*model.HistoryEntry),
		historyKey: make(map[string]string),
		subs:       make(map[int]chan model.Change),
	}
	if opts.Backend != nil {
		if _, err := store.LoadTable(ctx, opts.Backend, store.KeyHistory, historyVersion, &r.history); err != nil {
			r.log.Warn().Err(err).Msg("connection history unavailable, starting empty")
			r.history = make(map[string]*model.HistoryEntry)
		}
	}
	return r
}

// SetRetention changes the cleanup window.
func (r *Registry) SetRetention(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.opts.Retention = d
	}
}

// Now is the registry clock.
func (r *Registry) Now() time.Time {
	return r.opts.Now()
}

func (r *Registry) Get(id string) (model.Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return model.Endpoint{}, false
	}
	return *ep, true
}

// All returns every endpoint, oldest first.
func (r *Registry) All() []model.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, *ep)
	}
	sortEndpoints(out)
	return out
}

// LookupStableKey returns the endpoint registered under key.
func (r *Registry) LookupStableKey(key string) (model.Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.stableKeys[key]
	if !ok {
		return model.Endpoint{}, false
	}
	ep, ok := r.endpoints[id]
	if !ok {
		return model.Endpoint{}, false
	}
	return *ep, true
}

// SameComputer returns every endpoint whose base stable key is base, i.e.
// the base registration and all of its suffixed sessions.
func (r *Registry) SameComputer(base string) []model.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Endpoint
	for _, ep := range r.endpoints {
		if baseKey(*ep) == base {
			out = append(out, *ep)
		}
	}
	sortEndpoints(out)
	return out
}

// FindByHandle returns the endpoint of computer base that owns handle.
func (r *Registry) FindByHandle(base string, handle uint64) (model.Endpoint, bool) {
	if handle == 0 {
		return model.Endpoint{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ep := range r.endpoints {
		if ep.Handle == handle && baseKey(*ep) == base {
			return *ep, true
		}
	}
	return model.Endpoint{}, false
}

// History returns the connection history for a matching key.
func (r *Registry) History(matchingKey string) (model.HistoryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.history[matchingKey]
	if !ok {
		return model.HistoryEntry{}, false
	}
	return *h, true
}

// NextSuffix returns the smallest n >= 2 whose suffixed key is unused.
func (r *Registry) NextSuffix(base string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n := 2; ; n++ {
		if _, taken := r.stableKeys[model.SuffixedKey(base, n)]; !taken {
			return n
		}
	}
}

// Upsert inserts ep, or replaces the endpoint with the same id, registering
// it under ep.StableKey and recording history under matchingKey. Only the
// reconciliation engine calls this.
func (r *Registry) Upsert(ep model.Endpoint, matchingKey string) model.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.endpoints[ep.ID]
	if existed && prev.StableKey != ep.StableKey && r.stableKeys[prev.StableKey] == ep.ID {
		delete(r.stableKeys, prev.StableKey)
	}
	stored := ep
	r.endpoints[ep.ID] = &stored
	r.stableKeys[ep.StableKey] = ep.ID
	r.historyKey[ep.ID] = matchingKey

	h, ok := r.history[matchingKey]
	if !ok || h.EndpointID != ep.ID {
		h = &model.HistoryEntry{EndpointID: ep.ID, OriginalPID: ep.PID}
		r.history[matchingKey] = h
	}
	r.syncHistoryLocked(&stored)

	if existed {
		r.publishChangedLocked(*prev, stored)
	} else {
		r.publishLocked(model.Change{Type: model.ChangeAdded, ID: ep.ID, Endpoint: copyPtr(stored)})
	}
	return stored
}

// Update applies fn to the endpoint with id and returns the result.
func (r *Registry) Update(id string, fn func(*model.Endpoint)) (model.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return model.Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := *ep
	fn(ep)
	r.syncHistoryLocked(ep)
	r.publishChangedLocked(prev, *ep)
	return *ep, nil
}

// MarkMissingAsDisconnected flips every live endpoint not in seen to
// disconnected, except those holding an unexpired conflict lease. It returns
// the ids that changed.
func (r *Registry) MarkMissingAsDisconnected(seen map[string]bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.opts.Now()
	var changed []string
	for id, ep := range r.endpoints {
		if !ep.Status.IsLive() || seen[id] {
			continue
		}
		if ep.Protected(now) {
			continue
		}
		prev := *ep
		ep.Status = model.StatusDisconnected
		at := now
		ep.DisconnectedAt = &at
		r.syncHistoryLocked(ep)
		r.publishChangedLocked(prev, *ep)
		changed = append(changed, id)
	}
	sort.Strings(changed)
	return changed
}

// RemoveProcess drops an endpoint from the roster. Its group membership and
// stable-key registration go with it; its connection history is kept only
// when keepHistory is set, so that a later reconnection resumes its id.
func (r *Registry) RemoveProcess(ctx context.Context, id string, keepHistory bool) error {
	r.mu.Lock()
	ep, ok := r.endpoints[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := *ep
	r.removeLocked(removed, keepHistory)
	r.mu.Unlock()

	if r.opts.Sink != nil {
		if removed.GroupID != "" {
			r.opts.Sink.Detach(ctx, id)
		}
		if removed.MultipleID > 0 {
			r.opts.Sink.ReleaseSuffix(ctx, baseKey(removed), removed.MultipleID)
		}
	}
	return nil
}

func (r *Registry) removeLocked(ep model.Endpoint, keepHistory bool) {
	delete(r.endpoints, ep.ID)
	if r.stableKeys[ep.StableKey] == ep.ID {
		delete(r.stableKeys, ep.StableKey)
	}
	if mk, ok := r.historyKey[ep.ID]; ok {
		if !keepHistory {
			if h, ok := r.history[mk]; ok && h.EndpointID == ep.ID {
				delete(r.history, mk)
			}
		}
		delete(r.historyKey, ep.ID)
	}
	r.dirty = true
	r.publishLocked(model.Change{Type: model.ChangeRemoved, ID: ep.ID})
}

// CleanupOldProcesses removes ungrouped endpoints that have been disconnected
// for longer than the retention window. History is always kept so the
// endpoint is recognised if it comes back. Stale history for endpoints long
// gone is pruned here too.
func (r *Registry) CleanupOldProcesses(ctx context.Context) []string {
	r.mu.Lock()
	now := r.opts.Now()
	var expired []string
	for id, ep := range r.endpoints {
		if ep.Status != model.StatusDisconnected || ep.GroupID != "" || ep.DisconnectedAt == nil {
			continue
		}
		if now.Sub(*ep.DisconnectedAt) > r.opts.Retention {
			expired = append(expired, id)
		}
	}
	for mk, h := range r.history {
		if _, live := r.endpoints[h.EndpointID]; live {
			continue
		}
		if now.Sub(h.LastSeen) > r.opts.HistoryTTL {
			delete(r.history, mk)
			r.dirty = true
		}
	}
	r.mu.Unlock()

	sort.Strings(expired)
	for _, id := range expired {
		if err := r.RemoveProcess(ctx, id, true); err != nil && !errors.Is(err, ErrNotFound) {
			r.log.Warn().Err(err).Str("endpoint", id).Msg("cleanup failed")
		}
	}
	return expired
}

// SetLabel sets the endpoint's custom label.
func (r *Registry) SetLabel(id, label string) (model.Endpoint, error) {
	return r.Update(id, func(ep *model.Endpoint) { ep.CustomLabel = label })
}

// SetCategory sets or clears the endpoint's category.
func (r *Registry) SetCategory(id string, cat model.Category) (model.Endpoint, error) {
	return r.Update(id, func(ep *model.Endpoint) { ep.Category = cat })
}

// SetGroup sets or clears the endpoint's group.
func (r *Registry) SetGroup(id, groupID string) (model.Endpoint, error) {
	return r.Update(id, func(ep *model.Endpoint) { ep.GroupID = groupID })
}

// ClearGroup unsets GroupID on every endpoint in groupID.
func (r *Registry) ClearGroup(groupID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cleared []string
	for id, ep := range r.endpoints {
		if ep.GroupID != groupID {
			continue
		}
		prev := *ep
		ep.GroupID = ""
		r.publishChangedLocked(prev, *ep)
		cleared = append(cleared, id)
	}
	sort.Strings(cleared)
	return cleared
}

// Flush persists connection history if it changed since the last flush.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	if !r.dirty || r.opts.Backend == nil {
		r.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]model.HistoryEntry, len(r.history))
	for k, h := range r.history {
		snapshot[k] = *h
	}
	r.dirty = false
	r.mu.Unlock()

	if err := store.SaveTable(ctx, r.opts.Backend, store.KeyHistory, historyVersion, snapshot); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return err
	}
	return nil
}

// syncHistoryLocked mirrors an endpoint's connection state into its history
// slot.
func (r *Registry) syncHistoryLocked(ep *model.Endpoint) {
	mk, ok := r.historyKey[ep.ID]
	if !ok {
		return
	}
	h, ok := r.history[mk]
	if !ok || h.EndpointID != ep.ID {
		return
	}
	h.CurrentPID = ep.PID
	if h.OriginalPID == 0 {
		h.OriginalPID = ep.PID
	}
	h.Status = ep.Status
	h.LastSeen = ep.LastSeen
	if ep.DisconnectedAt != nil {
		t := *ep.DisconnectedAt
		h.DisconnectedTime = &t
	} else {
		h.DisconnectedTime = nil
	}
	r.dirty = true
}

func baseKey(ep model.Endpoint) string {
	return model.StableKey(ep.Type, ep.ComputerName)
}

func sortEndpoints(eps []model.Endpoint) {
	sort.Slice(eps, func(i, j int) bool {
		if !eps[i].CreatedAt.Equal(eps[j].CreatedAt) {
			return eps[i].CreatedAt.Before(eps[j].CreatedAt)
		}
		if eps[i].MultipleID != eps[j].MultipleID {
			return eps[i].MultipleID < eps[j].MultipleID
		}
		return strings.Compare(eps[i].ID, eps[j].ID) < 0
	})
}

func copyPtr(ep model.Endpoint) *model.Endpoint {
	return &ep
}
