package types

import "fmt"

// a request identity is a node's claim on the critical section
// the ordering key is (Timestamp, NodeID) - lower wins, ties by lower id
// Sequence is a per-node attempt counter; it is not part of the ordering
// key (the clock always advances between attempts) but disambiguates
// re-requests in logs and stale-ack checks
type RequestID struct {
	NodeID    uint64
	Timestamp uint64
	Sequence  uint64
}

// reports whether r has priority over other under the Lamport total
// order: lower timestamp wins, ties broken by lower node id. Every node
// evaluates the same pair of identities, so two racing nodes always
// agree on the winner.
func (r RequestID) Before(other RequestID) bool {
	if r.Timestamp != other.Timestamp {
		return r.Timestamp < other.Timestamp
	}
	return r.NodeID < other.NodeID
}

func (r RequestID) String() string {
	return fmt.Sprintf("node=%d ts=%d seq=%d", r.NodeID, r.Timestamp, r.Sequence)
}
