// Package printer implements the shared print service the mesh
// competes for. It is deliberately dumb: no queueing, no dedup, just a
// simulated fixed-range print delay and a confirmation. Mutual
// exclusion is entirely the callers' job.
package printer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/printmesh/pkg/types"
)

type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinDelay: 2 * time.Second,
		MaxDelay: 3 * time.Second,
	}
}

// Service implements transport.PrintingServer.
type Service struct {
	cfg    Config
	logger hclog.Logger
}

func NewService(cfg Config, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Service{cfg: cfg, logger: logger.Named("printer")}
}

// SendToPrinter simulates printing: sleep a uniform random delay in
// [MinDelay, MaxDelay], then confirm. The response echoes the job's
// timestamp so the caller can keep its clock causal.
func (s *Service) SendToPrinter(ctx context.Context, req types.PrintRequest) (types.PrintResponse, error) {
	delay := s.cfg.MinDelay
	if span := s.cfg.MaxDelay - s.cfg.MinDelay; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}

	s.logger.Info("printing", "ts", req.Timestamp, "node", req.NodeID, "seq", req.Sequence, "content", req.Content)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return types.PrintResponse{}, ctx.Err()
	}

	return types.PrintResponse{
		Success:      true,
		Confirmation: fmt.Sprintf("printed in %.2fs", delay.Seconds()),
		Timestamp:    req.Timestamp,
	}, nil
}
