package transport

import (
	"context"
	"fmt"

	"github.com/pixperk/printmesh/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

// Peer is the outbound gRPC client for one remote node. It satisfies
// mutex.PeerCaller.
type Peer struct {
	id   uint64
	addr string
	conn *grpc.ClientConn
}

func DialPeer(id uint64, addr string) (*Peer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer %d at %s: %w", id, addr, err)
	}
	return &Peer{id: id, addr: addr, conn: conn}, nil
}

func (p *Peer) ID() uint64 { return p.id }

func (p *Peer) Addr() string { return p.addr }

// RequestAccess blocks until the peer grants access or ctx expires. A
// peer that is HELD, or WANTED with priority, holds the reply open for
// up to a full critical-section duration.
func (p *Peer) RequestAccess(ctx context.Context, req types.AccessRequest) (types.AccessReply, error) {
	in, err := encodeMessage(req)
	if err != nil {
		return types.AccessReply{}, fmt.Errorf("encode access request: %w", err)
	}
	out := new(structpb.Struct)
	if err := p.conn.Invoke(ctx, methodRequestAccess, in, out); err != nil {
		return types.AccessReply{}, err
	}
	var reply types.AccessReply
	if err := decodeMessage(out, &reply); err != nil {
		return types.AccessReply{}, fmt.Errorf("decode access reply: %w", err)
	}
	return reply, nil
}

// ReleaseAccess notifies the peer that the local node left the critical
// section. Best-effort; the caller tolerates failures.
func (p *Peer) ReleaseAccess(ctx context.Context, rel types.AccessRelease) error {
	in, err := encodeMessage(rel)
	if err != nil {
		return fmt.Errorf("encode access release: %w", err)
	}
	out := new(structpb.Struct)
	return p.conn.Invoke(ctx, methodReleaseAccess, in, out)
}

func (p *Peer) Close() error {
	return p.conn.Close()
}
