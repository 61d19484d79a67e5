package transmit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrBusNotOpen is returned by StartAll when the shared bus handle has
// no open session.
var ErrBusNotOpen = errors.New("BUS_NOT_OPEN")

// Registry is the in-memory collection of active transmitters, keyed
// strictly by message identifier: at most one transmitter per id,
// independent of payload or cycle-time differences. The registry owns
// its transmitters exclusively; each holds only a non-owning reference
// to the shared bus.
type Registry struct {
	bus Sender
	rep Reporter

	mu  sync.RWMutex
	txs map[uint32]*Transmitter
}

// NewRegistry creates an empty registry bound to the shared bus.
func NewRegistry(bus Sender, rep Reporter) *Registry {
	return &Registry{
		bus: bus,
		rep: rep,
		txs: make(map[uint32]*Transmitter),
	}
}

// Upsert updates the active transmitter for spec.ID in place, or
// creates and starts a new one. Invalid specs are rejected before any
// state changes.
func (r *Registry) Upsert(spec MessageSpec) (Effect, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if tx, ok := r.txs[spec.ID]; ok {
		tx.Update(spec)
		return EffectUpdated, nil
	}

	tx := New(spec, r.bus, r.rep)
	tx.Start()
	r.txs[spec.ID] = tx
	return EffectCreated, nil
}

// Remove stops (blocking until fully stopped) and removes the
// transmitter for id. Reports whether one was found. The stop happens
// inside the critical section so a concurrent Upsert for the same id
// cannot slot in a second transmitter while the old one quiesces.
func (r *Registry) Remove(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[id]
	if !ok {
		return false
	}
	tx.Stop()
	delete(r.txs, id)
	return true
}

// StartAll upserts a full table snapshot. Every spec is validated up
// front and the bus must be open; otherwise nothing is started (no
// partial start). Identifiers already active are updated in place,
// never duplicated.
func (r *Registry) StartAll(specs []MessageSpec) error {
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("message 0x%X: %w", spec.ID, err)
		}
	}
	if !r.bus.IsOpen() {
		return ErrBusNotOpen
	}

	for _, spec := range specs {
		// Cannot fail: validated above.
		r.Upsert(spec)
	}
	return nil
}

// StopAll stops every transmitter, each joined until fully quiesced,
// then clears the collection. The bus stays open. Held under the lock
// for the same reason as Remove.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tx := range r.txs {
		tx.Stop()
	}
	r.txs = make(map[uint32]*Transmitter)
}

// Len reports the number of active transmitters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.txs)
}

// Spec returns the current spec for id, if a transmitter is active.
func (r *Registry) Spec(id uint32) (MessageSpec, bool) {
	r.mu.RLock()
	tx, ok := r.txs[id]
	r.mu.RUnlock()
	if !ok {
		return MessageSpec{}, false
	}
	return tx.Spec(), true
}

// State returns the lifecycle state of the transmitter for id.
func (r *Registry) State(id uint32) (State, bool) {
	r.mu.RLock()
	tx, ok := r.txs[id]
	r.mu.RUnlock()
	if !ok {
		return StateIdle, false
	}
	return tx.State(), true
}

// Snapshot returns the active specs sorted by identifier.
func (r *Registry) Snapshot() []MessageSpec {
	r.mu.RLock()
	specs := make([]MessageSpec, 0, len(r.txs))
	for _, tx := range r.txs {
		specs = append(specs, tx.Spec())
	}
	r.mu.RUnlock()

	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}
