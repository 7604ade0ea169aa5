package mutex

import (
	"context"

	"github.com/pixperk/printmesh/pkg/types"
)

// PeerCaller is the outbound capability the coordinator requires per
// peer. RequestAccess blocks until the peer replies or ctx expires; a
// deferring peer may legitimately hold the reply for an entire
// critical-section duration. ReleaseAccess is best-effort.
type PeerCaller interface {
	ID() uint64
	RequestAccess(ctx context.Context, req types.AccessRequest) (types.AccessReply, error)
	ReleaseAccess(ctx context.Context, rel types.AccessRelease) error
}

// PrintCaller is the shared print service the node competes for.
type PrintCaller interface {
	SendToPrinter(ctx context.Context, req types.PrintRequest) (types.PrintResponse, error)
}
