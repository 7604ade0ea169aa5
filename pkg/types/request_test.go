package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBeforeLowerTimestampWins(t *testing.T) {
	// node 1 ticked to 5, node 2 ticked to 3: node 2 has priority
	a := RequestID{NodeID: 1, Timestamp: 5, Sequence: 1}
	b := RequestID{NodeID: 2, Timestamp: 3, Sequence: 1}

	assert.True(t, b.Before(a))
	assert.False(t, a.Before(b))
}

func TestBeforeTieBrokenByNodeID(t *testing.T) {
	a := RequestID{NodeID: 1, Timestamp: 7, Sequence: 4}
	b := RequestID{NodeID: 3, Timestamp: 7, Sequence: 2}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
}

func TestBeforeIsStrict(t *testing.T) {
	a := RequestID{NodeID: 2, Timestamp: 9, Sequence: 1}
	assert.False(t, a.Before(a))
}

func TestBeforeIgnoresSequence(t *testing.T) {
	// sequence is observability only, never part of the ordering key
	a := RequestID{NodeID: 1, Timestamp: 5, Sequence: 99}
	b := RequestID{NodeID: 1, Timestamp: 6, Sequence: 1}

	assert.True(t, a.Before(b))
}

func TestBeforeAgreesFromBothSides(t *testing.T) {
	// both racing nodes must reach the same verdict from the same pair
	cases := []struct {
		name string
		a, b RequestID
	}{
		{"different timestamps", RequestID{NodeID: 1, Timestamp: 5}, RequestID{NodeID: 2, Timestamp: 3}},
		{"equal timestamps", RequestID{NodeID: 4, Timestamp: 8}, RequestID{NodeID: 2, Timestamp: 8}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			aWins := tc.a.Before(tc.b)
			bWins := tc.b.Before(tc.a)
			assert.NotEqual(t, aWins, bWins, "exactly one side must win")
		})
	}
}
