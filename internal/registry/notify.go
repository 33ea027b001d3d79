package registry

import (
	"github.com/mj1618/support-roster/internal/model"
)

// Subscribe returns a channel of roster changes and a function that ends the
// subscription. Sends never block the registry: a subscriber that falls more
// than buf changes behind misses changes and should re-read All().
func (r *Registry) Subscribe(buf int) (<-chan model.Change, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan model.Change, buf)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	var once bool
	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if once {
			return
		}
		once = true
		delete(r.subs, id)
		close(ch)
	}
	return ch, cancel
}

// publishChangedLocked sends a changed event when a visible field differs.
func (r *Registry) publishChangedLocked(prev, curr model.Endpoint) {
	diffs := model.DiffFields(prev, curr)
	if len(diffs) == 0 {
		return
	}
	r.publishLocked(model.Change{
		Type:     model.ChangeChanged,
		ID:       curr.ID,
		Endpoint: copyPtr(curr),
		Changes:  diffs,
	})
}

func (r *Registry) publishLocked(c model.Change) {
	c.TS = r.opts.Now().Unix()
	for id, ch := range r.subs {
		select {
		case ch <- c:
		default:
			r.log.Debug().Int("subscriber", id).Str("endpoint", c.ID).Msg("subscriber behind, change dropped")
		}
	}
}
