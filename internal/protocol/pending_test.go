package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vscode-sockpuppet/sockpuppet-go/internal/errors"
	"github.com/vscode-sockpuppet/sockpuppet-go/internal/wire"
)

func TestPendingTable_RegisterDuplicate(t *testing.T) {
	table := newPendingTable()

	_, err := table.register("id-1")
	require.NoError(t, err)

	_, err = table.register("id-1")
	require.Error(t, err)

	var dup *errors.DuplicateIDError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "id-1", dup.ID)

	// The original entry must not have been overwritten.
	assert.Equal(t, 1, table.size())
}

func TestPendingTable_CompleteDeliversAndRemoves(t *testing.T) {
	table := newPendingTable()

	call, err := table.register("id-1")
	require.NoError(t, err)

	resp := &wire.Response{ID: "id-1", Result: json.RawMessage(`true`)}
	require.True(t, table.complete(resp))
	assert.Equal(t, 0, table.size())

	outcome := <-call.slot
	require.NoError(t, outcome.err)
	assert.Equal(t, resp, outcome.resp)
}

func TestPendingTable_CompleteMiss(t *testing.T) {
	table := newPendingTable()

	assert.False(t, table.complete(&wire.Response{ID: "never-registered"}))
}

func TestPendingTable_RemoveThenCompleteIsMiss(t *testing.T) {
	table := newPendingTable()

	_, err := table.register("id-1")
	require.NoError(t, err)

	require.True(t, table.remove("id-1"))
	assert.False(t, table.remove("id-1"))

	// A response arriving after the timeout path removed the entry is a
	// harmless discarded miss.
	assert.False(t, table.complete(&wire.Response{ID: "id-1"}))
}

func TestPendingTable_DrainFailsAll(t *testing.T) {
	table := newPendingTable()
	reason := fmt.Errorf("%w: test", errors.ErrConnectionLost)

	calls := make([]*pendingCall, 0, 5)

	for i := range 5 {
		call, err := table.register(fmt.Sprintf("id-%d", i))
		require.NoError(t, err)

		calls = append(calls, call)
	}

	assert.Equal(t, 5, table.drain(reason))
	assert.Equal(t, 0, table.size())

	for _, call := range calls {
		outcome := <-call.slot
		require.ErrorIs(t, outcome.err, errors.ErrConnectionLost)
		assert.Nil(t, outcome.resp)
	}

	// After drain, the table refuses new registrations.
	_, err := table.register("late")
	require.ErrorIs(t, err, errors.ErrConnectionLost)

	// And a second drain is a no-op.
	assert.Equal(t, 0, table.drain(reason))
}

func TestPendingTable_ConcurrentRegisterComplete(t *testing.T) {
	// Run with: go test -race
	table := newPendingTable()

	var wg sync.WaitGroup

	for i := range 100 {
		id := fmt.Sprintf("id-%d", i)

		wg.Go(func() {
			call, err := table.register(id)
			require.NoError(t, err)

			outcome := <-call.slot
			require.NoError(t, outcome.err)
			assert.Equal(t, id, outcome.resp.ID)
		})

		wg.Go(func() {
			for !table.complete(&wire.Response{ID: id}) {
				// Spin until the matching register lands.
			}
		})
	}

	wg.Wait()
	assert.Equal(t, 0, table.size())
}
