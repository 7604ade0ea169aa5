package types

// wire messages exchanged over the mesh
// json tags drive the structpb encoding in pkg/transport

// asks a peer for permission to enter the critical section
// the peer may withhold its reply (deferral) while it is HELD or holds
// a higher-priority WANTED request
type AccessRequest struct {
	NodeID    uint64 `json:"node_id"`
	Timestamp uint64 `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
}

// ID returns the request identity carried by the message.
func (r AccessRequest) ID() RequestID {
	return RequestID{NodeID: r.NodeID, Timestamp: r.Timestamp, Sequence: r.Sequence}
}

// grants access; Timestamp is the replier's clock after its reply tick
type AccessReply struct {
	Granted   bool   `json:"granted"`
	Timestamp uint64 `json:"timestamp"`
}

// notifies peers that the sender left the critical section
// informational: deferral draining is driven by the local node's own
// exit from HELD, never by a peer's release
type AccessRelease struct {
	NodeID    uint64 `json:"node_id"`
	Timestamp uint64 `json:"timestamp"`
}

// a print job submitted while holding the critical section
type PrintRequest struct {
	NodeID    uint64 `json:"node_id"`
	Content   string `json:"content"`
	Timestamp uint64 `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
}

// print service result, echoing the job timestamp
type PrintResponse struct {
	Success      bool   `json:"success"`
	Confirmation string `json:"confirmation"`
	Timestamp    uint64 `json:"timestamp"`
}
