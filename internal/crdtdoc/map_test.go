package crdtdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thoughtkeep/em-sync/internal/clock"
)

func TestMapSetLWW(t *testing.T) {
	src := clock.NewSource(clock.NewSessionID())
	m := NewMap(clock.LogicalTimestamp{})

	t1 := src.Next()
	assert.True(t, m.Set("value", t1, "hello"))

	// An older timestamp must not win.
	older := clock.LogicalTimestamp{SID: t1.SID, Counter: 0}
	assert.False(t, m.Set("value", older, "stale"))

	v, ok := m.Get("value")
	require := assert.New(t)
	require.True(ok)
	require.Equal("hello", v)

	t2 := src.Next()
	assert.True(t, m.Set("value", t2, "world"))
	v, _ = m.Get("value")
	assert.Equal(t, "world", v)
}

func TestMapDeleteRequiresNewerTimestamp(t *testing.T) {
	src := clock.NewSource(clock.NewSessionID())
	m := NewMap(clock.LogicalTimestamp{})

	t1 := src.Next()
	m.Set("k", t1, 1)

	stale := clock.LogicalTimestamp{SID: t1.SID, Counter: 0}
	assert.False(t, m.Delete("k", stale))

	t2 := src.Next()
	assert.True(t, m.Delete("k", t2))
	_, ok := m.Get("k")
	assert.False(t, ok)
}

func TestMapNestedMergeNoChildLost(t *testing.T) {
	// Two devices concurrently add distinct children to the same parent;
	// after both patches are folded in, neither child is lost.
	sidA := clock.NewSessionID()
	sidB := clock.NewSessionID()
	srcA := clock.NewSource(sidA)
	srcB := clock.NewSource(sidB)

	root := NewMap(clock.LogicalTimestamp{})
	children := root.GetMap("childrenMap", srcA.Next())

	children.Set("c1", srcA.Next(), "thought-1")
	children.Set("c2", srcB.Next(), "thought-2")

	assert.ElementsMatch(t, []string{"c1", "c2"}, children.Keys())
}

func TestAsMapShapeHandlesBothRepresentations(t *testing.T) {
	live := NewMap(clock.LogicalTimestamp{})
	live.Set("a", clock.LogicalTimestamp{Counter: 1}, 1)

	snap, ok := AsMapShape(live)
	assert.True(t, ok)
	assert.Equal(t, map[string]interface{}{"a": 1}, snap)

	plain, ok := AsMapShape(map[string]interface{}{"b": 2})
	assert.True(t, ok)
	assert.Equal(t, map[string]interface{}{"b": 2}, plain)

	_, ok = AsMapShape(nil)
	assert.False(t, ok)
}
