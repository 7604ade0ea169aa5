package mutex

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/printmesh/pkg/metrics"
	"github.com/pixperk/printmesh/pkg/types"
)

// Config bounds one critical-section attempt.
type Config struct {
	// AckTimeout caps the wait for peer acknowledgements. It must exceed
	// the longest expected hold plus round-trip latency, because a
	// deferring peer holds its reply for a full critical section.
	AckTimeout time.Duration

	// ReleaseTimeout caps each fire-and-forget release notification.
	ReleaseTimeout time.Duration

	// PrintTimeout caps the print service call.
	PrintTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		AckTimeout:     120 * time.Second,
		ReleaseTimeout: 5 * time.Second,
		PrintTimeout:   15 * time.Second,
	}
}

// CycleOutcome reports one full critical-section cycle.
type CycleOutcome struct {
	Request      types.RequestID
	Granted      bool
	PrintOK      bool
	Confirmation string
	FailedPeers  []uint64
	Elapsed      time.Duration
}

// EventRecorder receives protocol events for post-hoc verification.
// Implemented by the journal store; optional.
type EventRecorder interface {
	Record(nodeID, ts, seq uint64, kind, detail string) error
}

// Coordinator drives full critical-section cycles for the local node:
// broadcast the request, wait for acknowledgements, print, release.
// It never retries a cycle; re-attempt policy belongs to the caller.
type Coordinator struct {
	engine   *Engine
	peers    []PeerCaller
	printer  PrintCaller
	cfg      Config
	logger   hclog.Logger
	recorder EventRecorder
}

func NewCoordinator(engine *Engine, peers []PeerCaller, printer PrintCaller, cfg Config, logger hclog.Logger) *Coordinator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Coordinator{
		engine:  engine,
		peers:   peers,
		printer: printer,
		cfg:     cfg,
		logger:  logger.Named("coordinator"),
	}
}

// SetRecorder attaches an event recorder. Must be called before Run.
func (c *Coordinator) SetRecorder(r EventRecorder) {
	c.recorder = r
}

func (c *Coordinator) record(ts, seq uint64, kind, detail string) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(c.engine.ID(), ts, seq, kind, detail); err != nil {
		c.logger.Debug("journal record failed", "kind", kind, "error", err)
	}
}

type ackResult struct {
	peer  uint64
	reply types.AccessReply
	err   error
}

// Run performs one cycle. It returns ErrRequestInFlight if a previous
// cycle is still in progress, and ctx.Err() if the context is cancelled
// before the node is admitted. A print failure is not an error: the
// outcome carries PrintOK=false and the release still goes out, so
// peers are never starved by a broken printer.
func (c *Coordinator) Run(ctx context.Context, content string) (CycleOutcome, error) {
	start := time.Now()

	req, err := c.engine.BeginRequest()
	if err != nil {
		return CycleOutcome{}, err
	}
	c.logger.Debug("requesting critical section", "request", req.String(), "peers", len(c.peers))
	c.record(req.Timestamp, req.Sequence, "request", content)

	// fan out to every peer; each send is independent so one slow or
	// dead peer never blocks the others
	ackCh := make(chan ackResult, len(c.peers))
	msg := types.AccessRequest{NodeID: req.NodeID, Timestamp: req.Timestamp, Sequence: req.Sequence}
	for _, p := range c.peers {
		go func(p PeerCaller) {
			sctx, cancel := context.WithTimeout(ctx, c.cfg.AckTimeout)
			defer cancel()
			reply, err := p.RequestAccess(sctx, msg)
			ackCh <- ackResult{peer: p.ID(), reply: reply, err: err}
		}(p)
	}

	acked := make(map[uint64]struct{}, len(c.peers))
	var failed []uint64
	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	outstanding := len(c.peers)
	for outstanding > 0 {
		select {
		case r := <-ackCh:
			outstanding--
			switch {
			case r.err != nil:
				c.logger.Warn("peer unreachable for this attempt", "peer", r.peer, "error", r.err)
				failed = append(failed, r.peer)
			case !r.reply.Granted:
				c.logger.Warn("peer denied access", "peer", r.peer)
				failed = append(failed, r.peer)
			default:
				c.engine.Clock().Observe(r.reply.Timestamp)
				if c.engine.RecordAck(r.peer, req) {
					acked[r.peer] = struct{}{}
				}
			}
		case <-timer.C:
			// exclude the silent peers from required coverage, for
			// this attempt only; their late acks become no-ops
			failed = failed[:0]
			for _, p := range c.peers {
				if _, ok := acked[p.ID()]; !ok {
					failed = append(failed, p.ID())
				}
			}
			c.logger.Warn("ack wait timed out", "request", req.String(), "missing", len(failed))
			outstanding = 0
		case <-ctx.Done():
			if abandonErr := c.engine.Abandon(); abandonErr != nil {
				c.logger.Error("abandon failed", "error", abandonErr)
			}
			metrics.CycleTotal.WithLabelValues("abandoned").Inc()
			return CycleOutcome{Request: req, Elapsed: time.Since(start)}, ctx.Err()
		}
	}

	metrics.AckWaitDuration.Observe(time.Since(start).Seconds())
	metrics.PeersFailedTotal.Add(float64(len(failed)))

	if err := c.engine.EnterHeld(req); err != nil {
		return CycleOutcome{Request: req, Elapsed: time.Since(start)}, err
	}
	held := time.Now()
	c.logger.Info("entered critical section", "request", req.String(), "acks", len(acked), "failed_peers", len(failed))
	c.record(c.engine.Clock().Value(), req.Sequence, "acquire", content)

	outcome := CycleOutcome{
		Request:     req,
		Granted:     true,
		FailedPeers: failed,
	}

	// the print operation runs exactly once per admission
	pctx, cancel := context.WithTimeout(ctx, c.cfg.PrintTimeout)
	resp, printErr := c.printer.SendToPrinter(pctx, types.PrintRequest{
		NodeID:    c.engine.ID(),
		Content:   content,
		Timestamp: c.engine.Clock().Tick(),
		Sequence:  req.Sequence,
	})
	cancel()
	if printErr != nil {
		c.logger.Error("print failed", "error", printErr)
		outcome.Confirmation = fmt.Sprintf("print failed: %v", printErr)
	} else {
		c.engine.Clock().Observe(resp.Timestamp)
		outcome.PrintOK = resp.Success
		outcome.Confirmation = resp.Confirmation
		if !resp.Success {
			c.logger.Error("print rejected", "error", types.ErrPrintFailed, "confirmation", resp.Confirmation)
		}
	}

	// release goes out regardless of the print result
	releaseTS, woken, err := c.engine.Release()
	if err != nil {
		return outcome, err
	}
	metrics.HeldDuration.Observe(time.Since(held).Seconds())
	c.logger.Info("left critical section", "request", req.String(), "drained", woken)
	c.record(releaseTS, req.Sequence, "release", outcome.Confirmation)

	rel := types.AccessRelease{NodeID: c.engine.ID(), Timestamp: releaseTS}
	for _, p := range c.peers {
		go func(p PeerCaller) {
			// detached from ctx so shutdown does not swallow the notify
			rctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReleaseTimeout)
			defer cancel()
			if err := p.ReleaseAccess(rctx, rel); err != nil {
				c.logger.Debug("release notify failed", "peer", p.ID(), "error", err)
			}
		}(p)
	}

	if outcome.PrintOK {
		metrics.CycleTotal.WithLabelValues("success").Inc()
	} else {
		metrics.CycleTotal.WithLabelValues("print_failed").Inc()
	}

	outcome.Elapsed = time.Since(start)
	return outcome, nil
}
