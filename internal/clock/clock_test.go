package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIDRoundTripsThroughString(t *testing.T) {
	sid := NewSessionID()
	parsed, err := ParseSessionID(sid.String())
	require.NoError(t, err)
	assert.Equal(t, 0, sid.Compare(parsed))
}

func TestLogicalTimestampOrdersBySessionThenCounter(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	if a.Compare(b) > 0 {
		a, b = b, a
	}

	low := LogicalTimestamp{SID: a, Counter: 5}
	high := LogicalTimestamp{SID: a, Counter: 6}
	assert.Equal(t, -1, low.Compare(high))
	assert.Equal(t, 1, high.Compare(low))
	assert.Equal(t, 0, low.Compare(low))

	otherSession := LogicalTimestamp{SID: b, Counter: 0}
	assert.Equal(t, -1, low.Compare(otherSession))
}

func TestSourceMintsStrictlyIncreasingTimestamps(t *testing.T) {
	src := NewSource(NewSessionID())
	first := src.Next()
	second := src.Next()
	assert.Equal(t, -1, first.Compare(second))
}

func TestNextAdvancesCounterOnly(t *testing.T) {
	sid := NewSessionID()
	ts := LogicalTimestamp{SID: sid, Counter: 3}
	next := ts.Next()
	assert.Equal(t, sid, next.SID)
	assert.Equal(t, uint64(4), next.Counter)
}
