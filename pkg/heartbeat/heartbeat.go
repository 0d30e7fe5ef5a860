// Package heartbeat is the shared logical clock between the query
// orchestrator and the background metabolism scheduler. The orchestrator
// pauses it while a query cascade runs (so the background scheduler can't
// fire mid-cascade), resumes it when the cascade finishes, and always
// advances the turn counter exactly once per query.
package heartbeat

import (
	"sync"

	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/types"
	"github.com/rs/zerolog"
)

// Heartbeat tracks the turn counter and a reference-counted pause gate.
// Pause is idempotent: multiple overlapping pauses are safe as long as
// every Pause is matched by a Resume. Resume is a no-op once the reference
// count reaches zero.
type Heartbeat struct {
	mu     sync.Mutex
	logger zerolog.Logger

	turn       uint64
	pauseCount int
	checkpoint *types.HeartbeatCheckpoint
}

// New starts a fresh heartbeat at turn 0, running.
func New() *Heartbeat {
	return &Heartbeat{logger: log.WithComponent("heartbeat")}
}

// Pause increments the pause reference count; the heartbeat is considered
// stopped while the count is non-zero.
func (h *Heartbeat) Pause(priority string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pauseCount++
	if h.checkpoint == nil {
		h.checkpoint = &types.HeartbeatCheckpoint{Turn: h.turn, Priority: priority}
	}
}

// Resume decrements the pause reference count. A Resume call when the count
// is already zero is a no-op.
func (h *Heartbeat) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pauseCount == 0 {
		return
	}
	h.pauseCount--
	if h.pauseCount == 0 {
		h.checkpoint = nil
	}
}

// IsRunning reports whether the heartbeat is currently unpaused.
func (h *Heartbeat) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pauseCount == 0
}

// AdvanceTurn increments the turn counter regardless of pause state and
// returns the new turn number. The orchestrator calls this exactly once per
// completed query; background cycles do not advance the turn.
func (h *Heartbeat) AdvanceTurn() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turn++
	return h.turn
}

// Turn returns the current turn number.
func (h *Heartbeat) Turn() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.turn
}

// Step records which background priority executed during the current
// pause, visible via GetStatus until the matching Resume clears it.
func (h *Heartbeat) Step(executedPriority string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.checkpoint != nil {
		h.checkpoint.ExecutedPriority = executedPriority
	}
}

// GetStatus returns a snapshot of the current heartbeat state.
func (h *Heartbeat) GetStatus() types.HeartbeatState {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := types.HeartbeatState{
		TurnNumber: h.turn,
		IsRunning:  h.pauseCount == 0,
	}
	if h.checkpoint != nil {
		cp := *h.checkpoint
		state.Checkpoint = &cp
	}
	return state
}
