package crdtdoc

import "github.com/thoughtkeep/em-sync/internal/clock"

// Map is a last-writer-wins CRDT map: each key carries the
// LogicalTimestamp of the write that last touched it, and a later
// timestamp always wins regardless of which replica produced it. Values
// may themselves be *Map (for nested structures such as childrenMap and
// contexts) or plain JSON-marshalable scalars.
//
// Never replace a nested *Map wholesale — mutate it in place so
// concurrent inserts under different keys merge.
type Map struct {
	id     clock.LogicalTimestamp
	fields map[string]*mapField
}

type mapField struct {
	ts    clock.LogicalTimestamp
	value interface{}
}

// NewMap creates an empty map node identified by id.
func NewMap(id clock.LogicalTimestamp) *Map {
	return &Map{id: id, fields: make(map[string]*mapField)}
}

// ID returns the node's identity timestamp.
func (m *Map) ID() clock.LogicalTimestamp { return m.id }

// Set assigns value to key if ts is newer than the field's current
// timestamp (or the field is absent). Reports whether the write took
// effect.
func (m *Map) Set(key string, ts clock.LogicalTimestamp, value interface{}) bool {
	existing, ok := m.fields[key]
	if ok && ts.Compare(existing.ts) <= 0 {
		return false
	}
	m.fields[key] = &mapField{ts: ts, value: value}
	return true
}

// Delete removes key if ts is newer than the field's current timestamp.
// Reports whether the deletion took effect.
func (m *Map) Delete(key string, ts clock.LogicalTimestamp) bool {
	existing, ok := m.fields[key]
	if !ok || ts.Compare(existing.ts) <= 0 {
		return false
	}
	delete(m.fields, key)
	return true
}

// Get returns the current value for key, if present.
func (m *Map) Get(key string) (interface{}, bool) {
	field, ok := m.fields[key]
	if !ok {
		return nil, false
	}
	return field.value, true
}

// GetMap returns the nested *Map stored at key, creating it (and
// inserting it with ts) if it is absent. If a non-Map value already
// occupies key, that value is replaced by a fresh empty map under ts,
// without a timestamp comparison; it does not panic.
func (m *Map) GetMap(key string, ts clock.LogicalTimestamp) *Map {
	if v, ok := m.fields[key]; ok {
		if nested, ok := v.value.(*Map); ok {
			return nested
		}
	}
	nested := NewMap(ts)
	m.fields[key] = &mapField{ts: ts, value: nested}
	return nested
}

// GetLog returns the *Log stored at key, creating it with ts if absent.
// A non-Log value already at key is replaced by a fresh empty log under
// ts, same contract as GetMap.
func (m *Map) GetLog(key string, ts clock.LogicalTimestamp) *Log {
	if v, ok := m.fields[key]; ok {
		if nested, ok := v.value.(*Log); ok {
			return nested
		}
	}
	nested := NewLog(ts)
	m.fields[key] = &mapField{ts: ts, value: nested}
	return nested
}

// Keys returns the map's current keys in no particular order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.fields))
	for k := range m.fields {
		keys = append(keys, k)
	}
	return keys
}

// Len reports the number of live fields.
func (m *Map) Len() int { return len(m.fields) }

// Snapshot recursively resolves the map (and any nested *Map values)
// into a plain map[string]interface{}, the shape application code reads.
//
// The underlying library is defensive about how nested maps come back —
// sometimes a live *Map, sometimes an already-serialized
// map[string]interface{} after a round trip through persistence — so
// Snapshot normalizes both (see §9 "dynamic shape" note).
func (m *Map) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(m.fields))
	for k, f := range m.fields {
		out[k] = snapshotValue(f.value)
	}
	return out
}

func snapshotValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *Map:
		return val.Snapshot()
	case map[string]interface{}:
		return val
	default:
		return v
	}
}

// AsMapShape normalizes v into a plain map[string]interface{} regardless
// of whether it arrived as a live *Map or an already-serialized mapping.
// Returns false if v is neither (or nil).
func AsMapShape(v interface{}) (map[string]interface{}, bool) {
	switch val := v.(type) {
	case *Map:
		return val.Snapshot(), true
	case map[string]interface{}:
		return val, true
	case nil:
		return nil, false
	default:
		return nil, false
	}
}
