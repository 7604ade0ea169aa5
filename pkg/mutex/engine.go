package mutex

import (
	"context"
	"sync"

	"github.com/pixperk/printmesh/pkg/clock"
	"github.com/pixperk/printmesh/pkg/metrics"
	"github.com/pixperk/printmesh/pkg/types"
)

// Engine is the per-node Ricart-Agrawala state machine.
// critical :
// - state, pending request, ack set and deferred queue are one unit
//   guarded by a single mutex; never read or write any of them without it
// - deferral is expressed by blocking the inbound handler on a condition
//   variable tied to that mutex, so the HELD -> RELEASED transition can
//   wake exactly the waiters whose guard no longer holds
// - the Lamport clock has its own lock and may be touched without mu
type Engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	id    uint64
	clock *clock.Clock

	state    types.NodeState
	pending  *types.RequestID
	seq      uint64
	acks     map[uint64]struct{}
	deferred []types.RequestID
}

func NewEngine(id uint64, clk *clock.Clock) *Engine {
	e := &Engine{
		id:    id,
		clock: clk,
		state: types.StateReleased,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *Engine) ID() uint64 { return e.id }

// Clock returns the node's Lamport clock, shared with the transport side.
func (e *Engine) Clock() *clock.Clock { return e.clock }

// BeginRequest transitions RELEASED -> WANTED: ticks the clock, stamps a
// fresh request identity with the next attempt sequence and clears the
// ack set. Returns ErrRequestInFlight while a previous attempt is still
// WANTED or HELD (a node issues at most one outstanding request).
func (e *Engine) BeginRequest() (types.RequestID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != types.StateReleased {
		return types.RequestID{}, types.ErrRequestInFlight
	}

	e.seq++
	req := types.RequestID{
		NodeID:    e.id,
		Timestamp: e.clock.Tick(),
		Sequence:  e.seq,
	}

	e.state = types.StateWanted
	e.pending = &req
	e.acks = make(map[uint64]struct{})

	return req, nil
}

// RecordAck counts an acknowledgement from a peer for the given request.
// Returns true if the ack was counted; false for duplicates and for
// stale acks whose identity no longer matches the pending request
// (e.g. a reply arriving after a timeout-driven abandonment).
func (e *Engine) RecordAck(peerID uint64, req types.RequestID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != types.StateWanted || e.pending == nil || *e.pending != req {
		return false
	}
	if _, seen := e.acks[peerID]; seen {
		return false
	}
	e.acks[peerID] = struct{}{}
	return true
}

// EnterHeld transitions WANTED -> HELD. The coordinator calls this once
// the ack set covers every peer considered live for the attempt.
func (e *Engine) EnterHeld(req types.RequestID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != types.StateWanted || e.pending == nil || *e.pending != req {
		return types.ErrNotWanted
	}
	e.state = types.StateHeld
	return nil
}

// Release transitions HELD -> RELEASED: ticks the clock for the release
// message, clears the pending request and ack set, and wakes every
// deferred inbound handler so it re-evaluates its guard. Returns the
// release timestamp and the number of deferred requests drained.
func (e *Engine) Release() (uint64, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != types.StateHeld {
		return 0, 0, types.ErrNotHeld
	}

	ts := e.clock.Tick()
	woken := len(e.deferred)

	e.state = types.StateReleased
	e.pending = nil
	e.acks = nil
	e.cond.Broadcast()

	return ts, woken, nil
}

// Abandon transitions WANTED -> RELEASED without entering the critical
// section. Waiters are woken because a queued peer request may now win
// against the cleared local request.
func (e *Engine) Abandon() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != types.StateWanted {
		return types.ErrNotWanted
	}

	e.state = types.StateReleased
	e.pending = nil
	e.acks = nil
	e.cond.Broadcast()

	return nil
}

// mustDefer applies the deferral guard: withhold the reply while this
// node is HELD, or while it is WANTED and its own pending request has
// priority over the incoming one. Caller must hold mu.
func (e *Engine) mustDefer(req types.RequestID) bool {
	switch e.state {
	case types.StateHeld:
		return true
	case types.StateWanted:
		return e.pending != nil && e.pending.Before(req)
	default:
		return false
	}
}

// HandleRequest answers a peer's access request. It observes the
// incoming timestamp, then either grants immediately or parks the
// request in the deferred queue and blocks until the guard clears (the
// local node leaves HELD or abandons a winning WANTED request). The
// reply carries a fresh local tick.
func (e *Engine) HandleRequest(ctx context.Context, req types.AccessRequest) (types.AccessReply, error) {
	e.clock.Observe(req.Timestamp)
	id := req.ID()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.mustDefer(id) {
		return types.AccessReply{Granted: true, Timestamp: e.clock.Tick()}, nil
	}

	e.deferred = append(e.deferred, id)
	metrics.RequestsDeferredTotal.Inc()
	metrics.DeferredDepth.Set(float64(len(e.deferred)))

	// wake the cond wait when the caller gives up, so the handler
	// returns instead of sleeping past the RPC's lifetime
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.cond.Broadcast()
			e.mu.Unlock()
		case <-stop:
		}
	}()

	for e.mustDefer(id) {
		if err := ctx.Err(); err != nil {
			e.removeDeferred(id)
			return types.AccessReply{}, err
		}
		e.cond.Wait()
	}

	e.removeDeferred(id)
	return types.AccessReply{Granted: true, Timestamp: e.clock.Tick()}, nil
}

// HandleRelease processes a peer's release notification. Only the clock
// is merged: deferral draining is driven by the local node's own exit
// from HELD, never by a peer's release.
func (e *Engine) HandleRelease(rel types.AccessRelease) {
	e.clock.Observe(rel.Timestamp)
}

// caller must hold mu
func (e *Engine) removeDeferred(id types.RequestID) {
	for i, d := range e.deferred {
		if d == id {
			e.deferred = append(e.deferred[:i], e.deferred[i+1:]...)
			break
		}
	}
	metrics.DeferredDepth.Set(float64(len(e.deferred)))
}

// point-in-time view of the engine for status logging
type Snapshot struct {
	State    types.NodeState
	Pending  *types.RequestID
	Acks     int
	Deferred int
	Sequence uint64
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		State:    e.state,
		Acks:     len(e.acks),
		Deferred: len(e.deferred),
		Sequence: e.seq,
	}
	if e.pending != nil {
		p := *e.pending
		snap.Pending = &p
	}
	return snap
}
