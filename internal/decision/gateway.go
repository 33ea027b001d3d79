// Package decision hands ambiguous identity conflicts to a human. The
// reconciliation engine proposes a ticket and parks only that record; a
// presenter (CLI prompt, MCP client or mini panel) reads the current ticket
// and answers it.
package decision

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mj1618/support-roster/internal/model"
)

var (
	// ErrDuplicate is returned when the same StableKey and window handle
	// already have a ticket in flight.
	ErrDuplicate = errors.New("conflict already pending")
	// ErrUnknownTicket is returned by Answer for a ticket that is not pending.
	ErrUnknownTicket = errors.New("unknown ticket")
)

// Reason says why a record needs a human decision.
type Reason string

const (
	ReasonIPChanged    Reason = "ip_changed"
	ReasonSameComputer Reason = "same_computer"
)

// Details is what the presenter shows the operator.
type Details struct {
	Reason    Reason         `yaml:"reason"     json:"reason"`
	StableKey string         `yaml:"stable_key" json:"stable_key"`
	Incoming  model.Identity `yaml:"-"          json:"-"`
	// ExistingID is the endpoint currently registered under StableKey.
	ExistingID string `yaml:"existing_id" json:"existing_id"`
	// Candidates are every endpoint of the same computer, for keep_existing
	// with an explicit selection.
	Candidates []model.Endpoint `yaml:"candidates" json:"candidates"`
}

// Ticket is one pending decision.
type Ticket struct {
	ID        string    `yaml:"id"         json:"id"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	Details   `yaml:",inline"`

	// Title and Handle of the incoming window, flattened for presenters.
	Title  string `yaml:"title"  json:"title"`
	Handle uint64 `yaml:"handle" json:"handle"`
	IP     string `yaml:"ip,omitempty" json:"ip,omitempty"`

	done chan Choice
	gone chan struct{}
}

// Done receives exactly one Choice when the ticket is answered.
func (t *Ticket) Done() <-chan Choice {
	return t.done
}

// Gone is closed when the ticket is dropped without an answer.
func (t *Ticket) Gone() <-chan struct{} {
	return t.gone
}

func (t *Ticket) key() string {
	return inflightKey(t.StableKey, t.Handle)
}

func inflightKey(stableKey string, handle uint64) string {
	return fmt.Sprintf("%s#%d", stableKey, handle)
}

// Gateway serialises prompts: one ticket is presented at a time and the rest
// wait in a bounded FIFO. A full queue answers new tickets with Different
// immediately.
type Gateway struct {
	mu       sync.Mutex
	log      zerolog.Logger
	now      func() time.Time
	limit    int
	current  *Ticket
	queue    []*Ticket
	inflight map[string]*Ticket
	notify   chan struct{}
}

func NewGateway(queueSize int, log zerolog.Logger) *Gateway {
	if queueSize < 0 {
		queueSize = 0
	}
	return &Gateway{
		log:      log,
		now:      time.Now,
		limit:    queueSize,
		inflight: make(map[string]*Ticket),
		notify:   make(chan struct{}, 1),
	}
}

// Propose files a ticket for d.
func (g *Gateway) Propose(d Details) (*Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := &Ticket{
		ID:        uuid.NewString(),
		CreatedAt: g.now(),
		Details:   d,
		Title:     d.Incoming.Window.Title,
		Handle:    d.Incoming.Window.Handle,
		IP:        d.Incoming.IPAddress,
		done:      make(chan Choice, 1),
		gone:      make(chan struct{}),
	}
	if _, ok := g.inflight[t.key()]; ok {
		return nil, fmt.Errorf("%w: %s handle %d", ErrDuplicate, d.StableKey, t.Handle)
	}

	switch {
	case g.current == nil:
		g.current = t
	case len(g.queue) < g.limit:
		g.queue = append(g.queue, t)
	default:
		g.log.Warn().
			Str("stable_key", d.StableKey).
			Uint64("handle", t.Handle).
			Int("queued", len(g.queue)).
			Msg("decision queue full, treating as a separate session")
		t.done <- Choice{Kind: Different}
		return t, nil
	}
	g.inflight[t.key()] = t
	g.signal()
	g.log.Info().
		Str("ticket", t.ID).
		Str("reason", string(d.Reason)).
		Str("stable_key", d.StableKey).
		Msg("conflict needs a decision")
	return t, nil
}

// InFlight reports whether (stableKey, handle) has a pending ticket.
func (g *Gateway) InFlight(stableKey string, handle uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[inflightKey(stableKey, handle)]
	return ok
}

// Current returns the ticket being presented.
func (g *Gateway) Current() (*Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current, g.current != nil
}

// Pending returns the presented ticket followed by the queued ones.
func (g *Gateway) Pending() []*Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return nil
	}
	return append([]*Ticket{g.current}, g.queue...)
}

// Answer resolves a pending ticket, presented or queued, and presents the
// next one.
func (g *Gateway) Answer(ticketID string, c Choice) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var t *Ticket
	if g.current != nil && g.current.ID == ticketID {
		t = g.current
		g.current = nil
		if len(g.queue) > 0 {
			g.current = g.queue[0]
			g.queue = g.queue[1:]
		}
	} else {
		for i, q := range g.queue {
			if q.ID == ticketID {
				t = q
				g.queue = append(g.queue[:i], g.queue[i+1:]...)
				break
			}
		}
	}
	if t == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTicket, ticketID)
	}
	delete(g.inflight, t.key())
	t.done <- c
	g.signal()
	g.log.Info().Str("ticket", t.ID).Str("choice", c.String()).Msg("conflict answered")
	return nil
}

// Abandon drops a ticket without answering it, e.g. on shutdown.
func (g *Gateway) Abandon(ticketID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropLocked(ticketID)
}

// Withdraw drops a pending ticket whose window has closed. It reports
// whether the ticket was still pending.
func (g *Gateway) Withdraw(ticketID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.dropLocked(ticketID)
	if t == nil {
		return false
	}
	g.log.Info().
		Str("ticket", t.ID).
		Str("stable_key", t.StableKey).
		Uint64("handle", t.Handle).
		Msg("conflict window closed, decision withdrawn")
	return true
}

func (g *Gateway) dropLocked(ticketID string) *Ticket {
	var t *Ticket
	if g.current != nil && g.current.ID == ticketID {
		t = g.current
		g.current = nil
		if len(g.queue) > 0 {
			g.current = g.queue[0]
			g.queue = g.queue[1:]
		}
		g.signal()
	} else {
		for i, q := range g.queue {
			if q.ID == ticketID {
				t = q
				g.queue = append(g.queue[:i], g.queue[i+1:]...)
				break
			}
		}
	}
	if t == nil {
		return nil
	}
	delete(g.inflight, t.key())
	close(t.gone)
	return t
}

// Notify fires whenever the presented ticket changes.
func (g *Gateway) Notify() <-chan struct{} {
	return g.notify
}

func (g *Gateway) signal() {
	select {
	case g.notify <- struct{}{}:
	default:
	}
}
