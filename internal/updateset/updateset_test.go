package updateset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueFlipsPushingOnEmptyTransition(t *testing.T) {
	var transitions []bool
	s := New(func(pushing bool) { transitions = append(transitions, pushing) })

	s.Enqueue("a")
	assert.True(t, s.IsPushing())
	s.Enqueue("b")
	assert.Equal(t, []bool{true}, transitions, "second enqueue must not re-fire the transition")

	s.Dequeue("a")
	assert.True(t, s.IsPushing(), "still pushing while b is pending")
	assert.Equal(t, []bool{true}, transitions)

	s.Dequeue("b")
	assert.False(t, s.IsPushing())
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestDequeueOfUnknownKeyIsNoop(t *testing.T) {
	s := New(nil)
	s.Dequeue("never-enqueued")
	assert.False(t, s.IsPushing())
	assert.Equal(t, 0, s.Len())
}

func TestEnqueueIdempotent(t *testing.T) {
	s := New(nil)
	s.Enqueue("a")
	s.Enqueue("a")
	assert.Equal(t, 1, s.Len())
}

func TestPendingReflectsMembership(t *testing.T) {
	s := New(nil)
	assert.False(t, s.Pending("a"))
	s.Enqueue("a")
	assert.True(t, s.Pending("a"))
	s.Dequeue("a")
	assert.False(t, s.Pending("a"))
}
