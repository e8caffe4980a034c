// Package inflight tracks public driver calls that are currently waiting on the module.
package inflight

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type callKeyType string

const callKey = callKeyType("inflight")

// Call is a public driver call that has not returned yet.
type Call struct {
	ID        uuid.UUID
	Method    string
	Arguments interface{}
	Started   time.Time

	cancel context.CancelFunc
}

// Cancel cancels the context associated with a call. Calls that have already handed their
// exchange to the transport still run to completion.
func (c *Call) Cancel() {
	c.cancel()
}

// Manager holds the calls of a single driver.
type Manager struct {
	mu    sync.Mutex
	calls map[uuid.UUID]*Call
	now   func() time.Time
}

// NewManager returns an empty Manager. A nil `now` uses time.Now.
func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{calls: map[uuid.UUID]*Call{}, now: now}
}

// Create registers a call on this context and returns the derived context along with a func that
// must be called when the call returns. Nested calls (e.g. the radio toggles issued by a join) are
// not registered separately.
func (m *Manager) Create(ctx context.Context, method string, args interface{}) (context.Context, func()) {
	if ctx.Value(callKey) != nil {
		return ctx, func() {}
	}

	c := &Call{
		ID:        uuid.New(),
		Method:    method,
		Arguments: args,
		Started:   m.now(),
	}
	ctx = context.WithValue(ctx, callKey, c)
	ctx, c.cancel = context.WithCancel(ctx)

	m.mu.Lock()
	m.calls[c.ID] = c
	m.mu.Unlock()

	return ctx, func() {
		c.cancel()
		m.mu.Lock()
		delete(m.calls, c.ID)
		m.mu.Unlock()
	}
}

// All returns the calls in progress, oldest first.
func (m *Manager) All() []*Call {
	m.mu.Lock()
	all := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		all = append(all, c)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Started.Before(all[j].Started) })
	return all
}

// Find finds a call by id, could return nil.
func (m *Manager) Find(id uuid.UUID) *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

// FindString finds a call by the string form of its id, could return nil.
func (m *Manager) FindString(id string) *Call {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return m.Find(parsed)
}

// Get returns the call on this context. This can be nil.
func Get(ctx context.Context) *Call {
	c, _ := ctx.Value(callKey).(*Call)
	return c
}
