package protocol

import (
	"sync"
	"time"

	"github.com/vscode-sockpuppet/sockpuppet-go/internal/errors"
	"github.com/vscode-sockpuppet/sockpuppet-go/internal/wire"
)

// callOutcome is what a completion slot is fulfilled with: a response or an
// error, never both.
type callOutcome struct {
	resp *wire.Response
	err  error
}

// pendingCall tracks one in-flight request awaiting its response.
//
// The slot channel has capacity 1 and receives exactly one outcome. The
// table owns the call from register until complete/fail/remove; whoever
// removes it from the map owns delivery.
type pendingCall struct {
	id         string
	slot       chan callOutcome
	registered time.Time
}

// pendingTable is the correlation table mapping in-flight request ids to
// waiting callers.
type pendingTable struct {
	mu     sync.Mutex
	calls  map[string]*pendingCall
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		calls: make(map[string]*pendingCall, 10),
	}
}

// register allocates a pending call for id.
//
// Returns *errors.DuplicateIDError if id is already pending, and
// ErrConnectionLost if the table has been drained by a disconnect.
func (t *pendingTable) register(id string) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errors.ErrConnectionLost
	}

	if _, exists := t.calls[id]; exists {
		return nil, &errors.DuplicateIDError{ID: id}
	}

	call := &pendingCall{
		id:         id,
		slot:       make(chan callOutcome, 1),
		registered: time.Now(),
	}

	t.calls[id] = call

	return call, nil
}

// complete fulfills and removes the pending call for resp.ID.
//
// Returns false on a lookup miss (late response after a timeout, a duplicate
// response, or a previously cancelled call); the caller logs and discards.
func (t *pendingTable) complete(resp *wire.Response) bool {
	t.mu.Lock()

	call, exists := t.calls[resp.ID]
	if exists {
		delete(t.calls, resp.ID)
	}

	t.mu.Unlock()

	if !exists {
		return false
	}

	// We removed the entry so we own the slot; capacity 1 makes this non-blocking.
	call.slot <- callOutcome{resp: resp}

	return true
}

// remove discards the pending call for id without fulfilling it.
//
// Used by the timeout and cancellation paths in Call, which surface their own
// error to the caller. A response arriving afterwards is a harmless miss.
func (t *pendingTable) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.calls[id]; !exists {
		return false
	}

	delete(t.calls, id)

	return true
}

// drain atomically removes every pending call and fails each with reason.
//
// After drain, register refuses new entries, so no caller can observe a
// partially drained table: a call either sees its original outcome or the
// disconnect error. Safe to call multiple times.
func (t *pendingTable) drain(reason error) int {
	t.mu.Lock()

	t.closed = true
	drained := t.calls
	t.calls = make(map[string]*pendingCall)

	t.mu.Unlock()

	for _, call := range drained {
		call.slot <- callOutcome{err: reason}
	}

	return len(drained)
}

// size reports the number of in-flight calls.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.calls)
}
