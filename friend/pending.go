package friend

import (
	"context"
	"slices"
	"sync"
)

// Requests is the pending request list shown to one user. An entry leaves the list only
// once the store confirmed the action on it.
type Requests struct {
	machine *Machine
	me      string

	mu    sync.Mutex
	items []PendingRequest
}

func (m *Machine) Requests(me string) *Requests {
	return &Requests{machine: m, me: me}
}

// Load replaces the list with the stored pending requests.
func (r *Requests) Load(ctx context.Context) error {
	items, err := r.machine.LoadPending(ctx, r.me)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.items = items
	r.mu.Unlock()
	return nil
}

func (r *Requests) Items() []PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.items)
}

func (r *Requests) Accept(ctx context.Context, from string) error {
	if err := r.machine.Accept(ctx, r.me, from); err != nil {
		return err
	}
	r.remove(from)
	return nil
}

func (r *Requests) Reject(ctx context.Context, from string) error {
	if err := r.machine.Reject(ctx, r.me, from); err != nil {
		return err
	}
	r.remove(from)
	return nil
}

// remove drops every entry from `from`, the same entries the store removed.
func (r *Requests) remove(from string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = slices.DeleteFunc(r.items, func(p PendingRequest) bool {
		return p.From == from
	})
}
