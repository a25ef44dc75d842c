package turnloop

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalvorsen/turnstile/blobstore"
)

func TestInterruptQueuesInputForNextTurn(t *testing.T) {
	state := NewTurnState(blobstore.NewMemoryStore(), "")
	assert.False(t, state.Interrupted())

	state.Interrupt("change of plans")
	state.Interrupt("and one more thing")
	assert.True(t, state.Interrupted())

	queued := state.TakeInterrupts()
	assert.Equal(t, []string{"change of plans", "and one more thing"}, queued)
	assert.False(t, state.Interrupted())
	assert.Empty(t, state.TakeInterrupts())
}

func TestInterruptSafeFromConcurrentCallers(t *testing.T) {
	state := NewTurnState(blobstore.NewMemoryStore(), "")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state.Interrupt("x")
		}()
	}
	wg.Wait()
	assert.Len(t, state.TakeInterrupts(), 16)
}

func TestHistoryReturnsCopy(t *testing.T) {
	state := NewTurnState(blobstore.NewMemoryStore(), "")
	state.Append(callMsg("call_1", "a"))

	history := state.History()
	require.Len(t, history, 1)
	history[0].Content = "mutated"
	assert.Empty(t, state.Messages[0].Content)
}

func TestResultSeqMonotonic(t *testing.T) {
	state := NewTurnState(blobstore.NewMemoryStore(), "")
	seen := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := state.nextResultSeq()
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8, "sequence numbers never collide")
}
