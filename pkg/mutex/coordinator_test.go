package mutex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pixperk/printmesh/pkg/clock"
	"github.com/pixperk/printmesh/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer scripts one remote node's behavior.
type fakePeer struct {
	id        uint64
	requestFn func(ctx context.Context, req types.AccessRequest) (types.AccessReply, error)
	releases  atomic.Int64
}

func (p *fakePeer) ID() uint64 { return p.id }

func (p *fakePeer) RequestAccess(ctx context.Context, req types.AccessRequest) (types.AccessReply, error) {
	return p.requestFn(ctx, req)
}

func (p *fakePeer) ReleaseAccess(ctx context.Context, rel types.AccessRelease) error {
	p.releases.Add(1)
	return nil
}

func ackingPeer(id uint64) *fakePeer {
	return &fakePeer{
		id: id,
		requestFn: func(ctx context.Context, req types.AccessRequest) (types.AccessReply, error) {
			return types.AccessReply{Granted: true, Timestamp: req.Timestamp + 1}, nil
		},
	}
}

func silentPeer(id uint64) *fakePeer {
	return &fakePeer{
		id: id,
		requestFn: func(ctx context.Context, req types.AccessRequest) (types.AccessReply, error) {
			<-ctx.Done()
			return types.AccessReply{}, ctx.Err()
		},
	}
}

// fakePrinter tracks critical-section occupancy and admission order.
type fakePrinter struct {
	mu       sync.Mutex
	order    []uint64
	inCS     atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
	fail     bool
	printErr error
}

func (p *fakePrinter) SendToPrinter(ctx context.Context, req types.PrintRequest) (types.PrintResponse, error) {
	if p.printErr != nil {
		return types.PrintResponse{}, p.printErr
	}
	if p.inCS.Add(1) != 1 {
		p.overlap.Store(true)
	}
	p.mu.Lock()
	p.order = append(p.order, req.NodeID)
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.inCS.Add(-1)
	return types.PrintResponse{Success: !p.fail, Confirmation: "ok", Timestamp: req.Timestamp}, nil
}

func (p *fakePrinter) admissions() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint64, len(p.order))
	copy(out, p.order)
	return out
}

func shortConfig() Config {
	return Config{
		AckTimeout:     300 * time.Millisecond,
		ReleaseTimeout: 100 * time.Millisecond,
		PrintTimeout:   time.Second,
	}
}

func TestRunFullCycle(t *testing.T) {
	e := newTestEngine(1)
	p2, p3 := ackingPeer(2), ackingPeer(3)
	printer := &fakePrinter{}

	c := NewCoordinator(e, []PeerCaller{p2, p3}, printer, shortConfig(), nil)

	outcome, err := c.Run(context.Background(), "job-1")
	require.NoError(t, err)

	assert.True(t, outcome.Granted)
	assert.True(t, outcome.PrintOK)
	assert.Equal(t, "ok", outcome.Confirmation)
	assert.Empty(t, outcome.FailedPeers)
	assert.Equal(t, types.StateReleased, e.Snapshot().State)

	// release notifications are fire-and-forget goroutines
	require.Eventually(t, func() bool {
		return p2.releases.Load() == 1 && p3.releases.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRunRejectsConcurrentCycle(t *testing.T) {
	e := newTestEngine(1)
	printer := &fakePrinter{delay: 200 * time.Millisecond}
	c := NewCoordinator(e, []PeerCaller{ackingPeer(2)}, printer, shortConfig(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Run(context.Background(), "first")
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return e.Snapshot().State != types.StateReleased
	}, time.Second, 5*time.Millisecond)

	_, err := c.Run(context.Background(), "second")
	assert.ErrorIs(t, err, types.ErrRequestInFlight)
	<-done
}

func TestRunTimeoutExcludesUnreachablePeer(t *testing.T) {
	e := newTestEngine(1)
	live := ackingPeer(2)
	dead := silentPeer(3)
	printer := &fakePrinter{}

	cfg := shortConfig()
	c := NewCoordinator(e, []PeerCaller{live, dead}, printer, cfg, nil)

	start := time.Now()
	outcome, err := c.Run(context.Background(), "degraded")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, outcome.Granted, "one dead peer must not block admission")
	assert.True(t, outcome.PrintOK)
	assert.Equal(t, []uint64{3}, outcome.FailedPeers)
	assert.GreaterOrEqual(t, elapsed, cfg.AckTimeout, "admission waits out the full timeout")
	assert.Less(t, elapsed, cfg.AckTimeout+2*time.Second)
	assert.Equal(t, types.StateReleased, e.Snapshot().State)
}

func TestRunExclusionScopedToSingleAttempt(t *testing.T) {
	e := newTestEngine(1)
	var calls atomic.Int64
	flaky := &fakePeer{id: 2}
	flaky.requestFn = func(ctx context.Context, req types.AccessRequest) (types.AccessReply, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return types.AccessReply{}, ctx.Err()
		}
		return types.AccessReply{Granted: true, Timestamp: req.Timestamp + 1}, nil
	}
	printer := &fakePrinter{}
	c := NewCoordinator(e, []PeerCaller{flaky}, printer, shortConfig(), nil)

	first, err := c.Run(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, first.FailedPeers)

	// the peer answers again on the next attempt: no permanent exclusion
	second, err := c.Run(context.Background(), "b")
	require.NoError(t, err)
	assert.Empty(t, second.FailedPeers)
}

func TestRunPrintFailureStillReleases(t *testing.T) {
	e := newTestEngine(1)
	peer := ackingPeer(2)
	printer := &fakePrinter{fail: true}
	c := NewCoordinator(e, []PeerCaller{peer}, printer, shortConfig(), nil)

	outcome, err := c.Run(context.Background(), "bad-job")
	require.NoError(t, err, "a print failure is an outcome, not an error")

	assert.True(t, outcome.Granted)
	assert.False(t, outcome.PrintOK)
	assert.Equal(t, types.StateReleased, e.Snapshot().State)
	require.Eventually(t, func() bool { return peer.releases.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunPrinterErrorStillReleases(t *testing.T) {
	e := newTestEngine(1)
	peer := ackingPeer(2)
	printer := &fakePrinter{printErr: errors.New("printer on fire")}
	c := NewCoordinator(e, []PeerCaller{peer}, printer, shortConfig(), nil)

	outcome, err := c.Run(context.Background(), "doomed")
	require.NoError(t, err)

	assert.True(t, outcome.Granted)
	assert.False(t, outcome.PrintOK)
	assert.Contains(t, outcome.Confirmation, "printer on fire")
	assert.Equal(t, types.StateReleased, e.Snapshot().State)
}

func TestRunAbandonsOnContextCancel(t *testing.T) {
	e := newTestEngine(1)
	dead := silentPeer(2)
	printer := &fakePrinter{}

	cfg := shortConfig()
	cfg.AckTimeout = 10 * time.Second
	c := NewCoordinator(e, []PeerCaller{dead}, printer, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Run(ctx, "cancelled")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, types.StateReleased, e.Snapshot().State, "abandon must return the node to RELEASED")
	assert.Empty(t, printer.admissions())
}

// ---------------------------------------------------------------------------
// loopback mesh: coordinators wired directly to each other's engines
// ---------------------------------------------------------------------------

type loopbackPeer struct {
	engine *Engine
}

func (p *loopbackPeer) ID() uint64 { return p.engine.ID() }

func (p *loopbackPeer) RequestAccess(ctx context.Context, req types.AccessRequest) (types.AccessReply, error) {
	return p.engine.HandleRequest(ctx, req)
}

func (p *loopbackPeer) ReleaseAccess(ctx context.Context, rel types.AccessRelease) error {
	p.engine.HandleRelease(rel)
	return nil
}

// buildMesh returns one coordinator per engine, fully connected.
func buildMesh(printer PrintCaller, cfg Config, engines ...*Engine) []*Coordinator {
	coords := make([]*Coordinator, len(engines))
	for i, e := range engines {
		var peers []PeerCaller
		for j, other := range engines {
			if j != i {
				peers = append(peers, &loopbackPeer{engine: other})
			}
		}
		coords[i] = NewCoordinator(e, peers, printer, cfg, nil)
	}
	return coords
}

func TestLowerTimestampAdmittedFirst(t *testing.T) {
	// the concrete race: node 1 requests at ts 5, node 2 at ts 3,
	// neither sees the other's request before stamping its own; node 3
	// is idle. Node 2 must be admitted first, node 1 deferred until
	// node 2 releases. Messages are delivered by hand to keep the
	// interleaving exact.
	clk1, clk2 := &clock.Clock{}, &clock.Clock{}
	clk1.Observe(3) // next tick -> 5
	clk2.Observe(1) // next tick -> 3

	e1 := NewEngine(1, clk1)
	e2 := NewEngine(2, clk2)
	e3 := NewEngine(3, &clock.Clock{})

	req1, err := e1.BeginRequest()
	require.NoError(t, err)
	req2, err := e2.BeginRequest()
	require.NoError(t, err)
	require.Equal(t, uint64(5), req1.Timestamp)
	require.Equal(t, uint64(3), req2.Timestamp)

	msg1 := types.AccessRequest{NodeID: 1, Timestamp: req1.Timestamp, Sequence: req1.Sequence}
	msg2 := types.AccessRequest{NodeID: 2, Timestamp: req2.Timestamp, Sequence: req2.Sequence}

	// node 2 defers node 1's request: its own ts 3 has priority
	deferredReply := make(chan types.AccessReply, 1)
	go func() {
		reply, err := e2.HandleRequest(context.Background(), msg1)
		if err == nil {
			deferredReply <- reply
		}
	}()
	require.Eventually(t, func() bool { return e2.Snapshot().Deferred == 1 }, time.Second, 5*time.Millisecond)

	// node 1 grants node 2 immediately: its own ts 5 loses
	replyFrom1, err := e1.HandleRequest(context.Background(), msg2)
	require.NoError(t, err)
	require.True(t, replyFrom1.Granted)

	// the idle node grants both
	replyTo1, err := e3.HandleRequest(context.Background(), msg1)
	require.NoError(t, err)
	_, err = e3.HandleRequest(context.Background(), msg2)
	require.NoError(t, err)

	// node 2 has full coverage and enters; node 1 is still one short
	require.True(t, e2.RecordAck(1, req2))
	require.True(t, e2.RecordAck(3, req2))
	require.NoError(t, e2.EnterHeld(req2))

	require.True(t, e1.RecordAck(3, req1))
	e1.Clock().Observe(replyTo1.Timestamp)
	assert.Equal(t, 1, e1.Snapshot().Acks, "node 1 is still missing node 2's ack")

	// node 2 releases; the deferred handler finally answers node 1
	_, woken, err := e2.Release()
	require.NoError(t, err)
	assert.Equal(t, 1, woken)

	select {
	case reply := <-deferredReply:
		require.True(t, reply.Granted)
		require.True(t, e1.RecordAck(2, req1))
		require.NoError(t, e1.EnterHeld(req1))
	case <-time.After(time.Second):
		t.Fatal("node 2 never answered node 1 after releasing")
	}
}

func TestMutualExclusionThreeNodes(t *testing.T) {
	e1 := NewEngine(1, &clock.Clock{})
	e2 := NewEngine(2, &clock.Clock{})
	e3 := NewEngine(3, &clock.Clock{})

	printer := &fakePrinter{delay: 10 * time.Millisecond}
	cfg := Config{AckTimeout: 10 * time.Second, ReleaseTimeout: time.Second, PrintTimeout: 5 * time.Second}
	coords := buildMesh(printer, cfg, e1, e2, e3)

	const cyclesPerNode = 3
	var wg sync.WaitGroup
	for _, c := range coords {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			for i := 0; i < cyclesPerNode; i++ {
				outcome, err := c.Run(context.Background(), "contended")
				assert.NoError(t, err)
				assert.True(t, outcome.Granted)
				assert.Empty(t, outcome.FailedPeers)
			}
		}(c)
	}
	wg.Wait()

	assert.False(t, printer.overlap.Load(), "mutual exclusion violated")
	assert.Len(t, printer.admissions(), 3*cyclesPerNode, "every requesting node makes progress")
}
