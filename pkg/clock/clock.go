// Package clock implements a Lamport logical clock.
//
// From Lamport (1978), two implementation rules govern the clock:
//
//	IR1 (internal event): Before any internal event, increment the clock.
//	IR2 (message receipt): On receiving a message with timestamp t,
//	     set the clock to max(own, t) + 1.
//
// Every protocol message a node sends (request, reply, release, print)
// is preceded by Tick; every timestamped message it receives is preceded
// by Observe. The clock is shared between the outbound coordinator and
// the inbound gRPC handlers, so all operations are guarded by a mutex
// finer-grained than the protocol engine's state lock.
package clock

import "sync"

// Clock is a goroutine-safe Lamport logical clock. The zero value is a
// clock at 0, ready to use.
type Clock struct {
	mu sync.Mutex
	ts uint64
}

// Tick implements IR1: increment the clock before a local event.
// Returns the new timestamp.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts++
	return c.ts
}

// Observe implements IR2: on receiving a message with timestamp received,
// set the clock to max(own, received) + 1. Returns the new timestamp.
func (c *Clock) Observe(received uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if received > c.ts {
		c.ts = received
	}
	c.ts++
	return c.ts
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}
