package server

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/printmesh/pkg/mutex"
	"github.com/pixperk/printmesh/pkg/types"
)

// Server answers peer protocol calls by driving the local engine. It
// implements transport.MutualExclusionServer.
type Server struct {
	engine *mutex.Engine
	logger hclog.Logger
}

// wraps the engine into the mesh-facing service
func NewServer(engine *mutex.Engine, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		engine: engine,
		logger: logger.Named("server"),
	}
}

// RequestAccess applies the deferral guard and replies once the local
// node has no reason to withhold the grant. The call blocks for up to a
// full critical-section duration when the guard holds; the requester's
// own timeout bounds the wait.
func (s *Server) RequestAccess(ctx context.Context, req types.AccessRequest) (types.AccessReply, error) {
	s.logger.Debug("inbound access request", "request", req.ID().String())

	reply, err := s.engine.HandleRequest(ctx, req)
	if err != nil {
		s.logger.Debug("inbound request dropped", "request", req.ID().String(), "error", err)
		return types.AccessReply{}, toGRPCError(err)
	}

	s.logger.Debug("granted access", "request", req.ID().String(), "reply_ts", reply.Timestamp)
	return reply, nil
}

// ReleaseAccess merges the peer's release timestamp into the clock.
// Informational only: draining is driven by the local HELD exit.
func (s *Server) ReleaseAccess(ctx context.Context, rel types.AccessRelease) error {
	s.engine.HandleRelease(rel)
	s.logger.Debug("peer released", "peer", rel.NodeID, "ts", rel.Timestamp)
	return nil
}
