// Package roster is the command surface shared by the CLI, the MCP server
// and the mini panel. Each command keeps the live registry and the persisted
// group/category store in step.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mj1618/support-roster/internal/decision"
	"github.com/mj1618/support-roster/internal/groups"
	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/platform"
	"github.com/mj1618/support-roster/internal/registry"
)

var (
	ErrNotFound     = errors.New("endpoint not found")
	ErrAmbiguous    = errors.New("endpoint reference is ambiguous")
	ErrDisconnected = errors.New("endpoint is disconnected")
	ErrNoFocuser    = errors.New("no window backend available to focus")
)

type Options struct {
	Registry     *registry.Registry
	Groups       *groups.Store
	Gateway      *decision.Gateway
	Focuser      platform.Focuser
	FocusTimeout time.Duration
	Logger       zerolog.Logger
}

type Router struct {
	reg          *registry.Registry
	groups       *groups.Store
	gate         *decision.Gateway
	focuser      platform.Focuser
	focusTimeout atomic.Int64 // time.Duration; changed on config reload
	log          zerolog.Logger
}

func New(opts Options) *Router {
	if opts.FocusTimeout <= 0 {
		opts.FocusTimeout = 10 * time.Second
	}
	r := &Router{
		reg:     opts.Registry,
		groups:  opts.Groups,
		gate:    opts.Gateway,
		focuser: opts.Focuser,
		log:     opts.Logger,
	}
	r.focusTimeout.Store(int64(opts.FocusTimeout))
	return r
}

// SetFocusTimeout changes the focus deadline; used on config reload.
func (r *Router) SetFocusTimeout(d time.Duration) {
	if d > 0 {
		r.focusTimeout.Store(int64(d))
	}
}

// Endpoints returns the roster, oldest first.
func (r *Router) Endpoints() []model.Endpoint {
	return r.reg.All()
}

// Groups returns every group, oldest first.
func (r *Router) Groups() []model.Group {
	return r.groups.Groups()
}

// Lookup resolves ref to one endpoint. ref may be an endpoint id, a unique id
// prefix, a stable key, or a display name (case-insensitive).
func (r *Router) Lookup(ref string) (model.Endpoint, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Endpoint{}, fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	if ep, ok := r.reg.Get(ref); ok {
		return ep, nil
	}
	if ep, ok := r.reg.LookupStableKey(ref); ok {
		return ep, nil
	}

	var matches []model.Endpoint
	for _, ep := range r.reg.All() {
		if strings.HasPrefix(ep.ID, ref) || strings.EqualFold(ep.DisplayName(), ref) {
			matches = append(matches, ep)
		}
	}
	switch len(matches) {
	case 0:
		return model.Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return matches[0], nil
	}
	// Several sessions of one computer: prefer the single live one.
	var live []model.Endpoint
	for _, ep := range matches {
		if ep.Status.IsLive() {
			live = append(live, ep)
		}
	}
	if len(live) == 1 {
		return live[0], nil
	}
	return model.Endpoint{}, fmt.Errorf("%w: %q matches %d endpoints", ErrAmbiguous, ref, len(matches))
}

// Focus restores and raises the endpoint's window. A refusal by the OS or a
// backend that does not answer within the focus timeout is reported as
// false with a nil error.
func (r *Router) Focus(ctx context.Context, ref string) (bool, error) {
	ep, err := r.Lookup(ref)
	if err != nil {
		return false, err
	}
	if !ep.Status.IsLive() {
		return false, fmt.Errorf("%w: %s", ErrDisconnected, ep.DisplayName())
	}
	if r.focuser == nil {
		return false, ErrNoFocuser
	}

	timeout := time.Duration(r.focusTimeout.Load())
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := r.focuser.Focus(ctx, model.FocusTarget{PID: ep.PID, Handle: ep.Handle}, ep.Type)
		done <- result{ok, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return false, fmt.Errorf("focus %s: %w", ep.DisplayName(), res.err)
		}
		if !res.ok {
			r.log.Warn().Str("endpoint", ep.ID).Msg("window refused focus")
		}
		return res.ok, nil
	case <-ctx.Done():
		r.log.Warn().Str("endpoint", ep.ID).Dur("timeout", timeout).Msg("focus timed out")
		return false, nil
	}
}

// SetLabel sets or clears (empty label) the endpoint's custom label.
func (r *Router) SetLabel(ctx context.Context, ref, label string) (model.Endpoint, error) {
	ep, err := r.Lookup(ref)
	if err != nil {
		return model.Endpoint{}, err
	}
	label = strings.TrimSpace(label)
	r.groups.SetLabel(ctx, ep.StableKey, label)
	return r.reg.SetLabel(ep.ID, label)
}

// SetCategory sets or clears the endpoint's category.
func (r *Router) SetCategory(ctx context.Context, ref string, cat model.Category) (model.Endpoint, error) {
	ep, err := r.Lookup(ref)
	if err != nil {
		return model.Endpoint{}, err
	}
	r.groups.SetCategory(ctx, ep.StableKey, cat)
	return r.reg.SetCategory(ep.ID, cat)
}

// AssignGroup moves the endpoint into groupID, or out of any group when
// groupID is empty.
func (r *Router) AssignGroup(ctx context.Context, ref, groupID string) (model.Endpoint, error) {
	ep, err := r.Lookup(ref)
	if err != nil {
		return model.Endpoint{}, err
	}
	if groupID != "" {
		g, err := r.LookupGroup(groupID)
		if err != nil {
			return model.Endpoint{}, err
		}
		groupID = g.ID
	}
	if err := r.groups.Assign(ctx, ep.StableKey, ep.ID, groupID); err != nil {
		return model.Endpoint{}, err
	}
	return r.reg.SetGroup(ep.ID, groupID)
}

// LookupGroup resolves a group by id or case-insensitive name.
func (r *Router) LookupGroup(ref string) (model.Group, error) {
	if g, ok := r.groups.Group(ref); ok {
		return g, nil
	}
	for _, g := range r.groups.Groups() {
		if strings.EqualFold(g.Name, strings.TrimSpace(ref)) {
			return g, nil
		}
	}
	return model.Group{}, fmt.Errorf("%w: %s", groups.ErrGroupNotFound, ref)
}

func (r *Router) CreateGroup(ctx context.Context, name, color string) (model.Group, error) {
	return r.groups.CreateGroup(ctx, name, color)
}

func (r *Router) RenameGroup(ctx context.Context, ref, name string) error {
	g, err := r.LookupGroup(ref)
	if err != nil {
		return err
	}
	return r.groups.RenameGroup(ctx, g.ID, name)
}

// DeleteGroup deletes a group. Members lose their group only when the
// delete succeeds.
func (r *Router) DeleteGroup(ctx context.Context, ref string, force bool) error {
	g, err := r.LookupGroup(ref)
	if err != nil {
		return err
	}
	if err := r.groups.DeleteGroup(ctx, g.ID, force); err != nil {
		return err
	}
	cleared := r.reg.ClearGroup(g.ID)
	r.log.Info().Str("group", g.Name).Int("members", len(cleared)).Msg("group deleted")
	return nil
}

// Remove drops an endpoint from the roster. Its persisted label, group and
// category stay attached to its stable key.
func (r *Router) Remove(ctx context.Context, ref string) error {
	ep, err := r.Lookup(ref)
	if err != nil {
		return err
	}
	return r.reg.RemoveProcess(ctx, ep.ID, false)
}

// Pending returns the open conflict decisions, presented one first.
func (r *Router) Pending() []*decision.Ticket {
	return r.gate.Pending()
}

// Answer resolves a pending decision. Unrecognised answers are treated as
// "different".
func (r *Router) Answer(ticketID, answer string) (decision.Choice, error) {
	c, ok := decision.ParseChoice(answer)
	if !ok {
		r.log.Warn().Str("answer", answer).Msg("unrecognised answer, treating as a separate session")
	}
	return c, r.gate.Answer(ticketID, c)
}
