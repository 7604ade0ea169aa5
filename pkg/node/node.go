// Package node wires one mesh peer together: the Lamport clock, the
// access engine, the cycle coordinator, the inbound gRPC service, the
// printer client, and the background job generator and status loops.
package node

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixperk/printmesh/pkg/clock"
	"github.com/pixperk/printmesh/pkg/journal"
	"github.com/pixperk/printmesh/pkg/metrics"
	"github.com/pixperk/printmesh/pkg/mutex"
	"github.com/pixperk/printmesh/pkg/server"
	"github.com/pixperk/printmesh/pkg/transport"
	"google.golang.org/grpc"
)

type Node struct {
	cfg    Config
	logger hclog.Logger

	clock   *clock.Clock
	engine  *mutex.Engine
	coord   *mutex.Coordinator
	peers   []*transport.Peer
	printer *transport.PrinterClient
	journal *journal.Store

	grpcServer *grpc.Server
	listener   net.Listener
	metricsSrv *http.Server

	jobsOK   atomic.Uint64
	jobsErr  atomic.Uint64
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "printmesh"})
	}
	logger = logger.With("node", cfg.NodeID)

	n := &Node{
		cfg:    cfg,
		logger: logger,
		clock:  &clock.Clock{},
	}
	n.engine = mutex.NewEngine(cfg.NodeID, n.clock)

	var peerCallers []mutex.PeerCaller
	for id, addr := range cfg.Peers {
		p, err := transport.DialPeer(id, addr)
		if err != nil {
			n.closePeers()
			return nil, err
		}
		n.peers = append(n.peers, p)
		peerCallers = append(peerCallers, p)
	}

	printerClient, err := transport.DialPrinter(cfg.PrinterAddr)
	if err != nil {
		n.closePeers()
		return nil, err
	}
	n.printer = printerClient

	n.coord = mutex.NewCoordinator(n.engine, peerCallers, printerClient, mutex.Config{
		AckTimeout:     cfg.AckTimeout,
		ReleaseTimeout: cfg.ReleaseTimeout,
		PrintTimeout:   cfg.PrintTimeout,
	}, logger)

	if cfg.JournalPath != "" {
		j, err := journal.New(cfg.JournalPath)
		if err != nil {
			n.closePeers()
			printerClient.Close()
			return nil, err
		}
		n.journal = j
		n.coord.SetRecorder(j)
	}

	return n, nil
}

// Start binds the mesh service and launches the background loops. It
// returns once the node is serving; Stop shuts everything down.
func (n *Node) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.ListenAddr, err)
	}
	n.listener = lis

	n.grpcServer = grpc.NewServer()
	transport.RegisterMutualExclusionServer(n.grpcServer, server.NewServer(n.engine, n.logger))

	ctx, n.cancel = context.WithCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.grpcServer.Serve(lis); err != nil {
			n.logger.Error("mesh server stopped", "error", err)
		}
	}()
	n.logger.Info("mesh service listening", "addr", lis.Addr().String(), "peers", len(n.peers), "printer", n.cfg.PrinterAddr)

	if n.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		n.metricsSrv = &http.Server{Addr: n.cfg.MetricsAddr, Handler: mux}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				n.logger.Error("metrics server stopped", "error", err)
			}
		}()
		n.logger.Info("metrics listening", "addr", n.cfg.MetricsAddr)
	}

	if n.cfg.StatusInterval > 0 {
		n.wg.Add(1)
		go n.statusLoop(ctx)
	}

	if n.cfg.MinJobWait > 0 {
		n.wg.Add(1)
		go n.jobLoop(ctx)
	}

	return nil
}

// Addr returns the bound mesh address, useful when listening on :0.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// RunCycle performs one critical-section print cycle on behalf of the
// caller. Concurrent calls beyond the first fail with
// ErrRequestInFlight; retry policy is the caller's.
func (n *Node) RunCycle(ctx context.Context, content string) (mutex.CycleOutcome, error) {
	return n.coord.Run(ctx, content)
}

// jobLoop generates print jobs at random intervals for the process
// lifetime, simulating a workstation issuing print requests.
func (n *Node) jobLoop(ctx context.Context) {
	defer n.wg.Done()

	for {
		wait := n.cfg.MinJobWait
		if span := n.cfg.MaxJobWait - n.cfg.MinJobWait; span > 0 {
			wait += time.Duration(rand.Int63n(int64(span)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		content := fmt.Sprintf("hello from node %d (job %s)", n.cfg.NodeID, uuid.NewString())
		outcome, err := n.coord.Run(ctx, content)
		switch {
		case err != nil:
			n.jobsErr.Add(1)
			metrics.JobsTotal.WithLabelValues("error").Inc()
			n.logger.Warn("job failed", "error", err)
		case !outcome.PrintOK:
			n.jobsErr.Add(1)
			metrics.JobsTotal.WithLabelValues("print_failed").Inc()
			n.logger.Warn("job printed with failure", "confirmation", outcome.Confirmation)
		default:
			n.jobsOK.Add(1)
			metrics.JobsTotal.WithLabelValues("success").Inc()
			n.logger.Info("job done", "confirmation", outcome.Confirmation, "elapsed", outcome.Elapsed, "failed_peers", len(outcome.FailedPeers))
		}
	}
}

// statusLoop periodically logs a human-readable snapshot of the node.
func (n *Node) statusLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := n.engine.Snapshot()
			ts := n.clock.Value()
			metrics.ClockValue.Set(float64(ts))
			n.logger.Info("status",
				"state", snap.State.String(),
				"ts", ts,
				"acks", snap.Acks,
				"deferred", snap.Deferred,
				"jobs_ok", n.jobsOK.Load(),
				"jobs_err", n.jobsErr.Load(),
			)
		}
	}
}

// Stop shuts the node down gracefully: background loops first, then the
// mesh server, then outbound connections and the journal.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		if n.grpcServer != nil {
			n.grpcServer.GracefulStop()
		}
		if n.metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			n.metricsSrv.Shutdown(shutdownCtx)
			cancel()
		}
		n.wg.Wait()

		n.closePeers()
		if n.printer != nil {
			n.printer.Close()
		}
		if n.journal != nil {
			n.journal.Close()
		}
		n.logger.Info("node stopped")
	})
}

func (n *Node) closePeers() {
	for _, p := range n.peers {
		if err := p.Close(); err != nil {
			n.logger.Debug("peer close failed", "peer", p.ID(), "error", err)
		}
	}
}
