// Package codec projects between the application's plain Thought/Lexeme
// shapes and their CRDT document representation.
package codec

import (
	"github.com/thoughtkeep/em-sync/internal/crdtdoc"
	"github.com/thoughtkeep/em-sync/internal/entity"
)

// ThoughtToCRDT writes thought's fields onto tx's root map. childrenMap
// is never replaced wholesale: entries no longer present are deleted
// one at a time and new entries are inserted one at a time, so
// concurrent inserts under different keys by another session still
// merge.
func ThoughtToCRDT(tx *crdtdoc.Tx, thought entity.Thought) {
	root := tx.Root()
	ts := tx.NextTS()

	root.Set("id", ts, string(thought.ID))
	root.Set("parentId", ts, string(thought.ParentID))
	root.Set("value", ts, thought.Value)
	root.Set("rank", ts, thought.Rank)
	root.Set("archived", ts, thought.Archived)

	children := root.GetMap("childrenMap", ts)
	for _, key := range children.Keys() {
		if _, ok := thought.ChildrenMap[key]; !ok {
			children.Delete(key, ts)
		}
	}
	for key, childID := range thought.ChildrenMap {
		children.Set(key, ts, string(childID))
	}
}

// CRDTToThought projects doc's root map to a Thought, returning false if
// the root map is empty. childrenMap is normalized to a plain mapping
// regardless of whether the underlying library handed it back as a live
// node or an already-serialized object.
func CRDTToThought(doc *crdtdoc.Document) (entity.Thought, bool) {
	root := doc.Root()
	if root.Len() == 0 {
		return entity.Thought{}, false
	}
	snapshot := root.Snapshot()

	thought := entity.Thought{
		ID:       entity.ThoughtID(asString(snapshot["id"])),
		ParentID: entity.ThoughtID(asString(snapshot["parentId"])),
		Value:    asString(snapshot["value"]),
		Rank:     asFloat(snapshot["rank"]),
		Archived: asBool(snapshot["archived"]),
	}
	if childrenRaw, ok := crdtdoc.AsMapShape(snapshot["childrenMap"]); ok {
		thought.ChildrenMap = make(map[string]entity.ThoughtID, len(childrenRaw))
		for key, val := range childrenRaw {
			thought.ChildrenMap[key] = entity.ThoughtID(asString(val))
		}
	}
	return thought, true
}

// LexemeToCRDT writes lex's fields onto tx's root map. contexts is the
// CRDT representation of the external unordered ThoughtID sequence: a
// map ThoughtId -> true, merged key-by-key like childrenMap.
func LexemeToCRDT(tx *crdtdoc.Tx, lex entity.Lexeme) {
	root := tx.Root()
	ts := tx.NextTS()

	root.Set("key", ts, string(lex.Key))
	root.Set("value", ts, lex.Value)

	wanted := make(map[string]struct{}, len(lex.Contexts))
	for _, id := range lex.Contexts {
		wanted[string(id)] = struct{}{}
	}

	contexts := root.GetMap("contexts", ts)
	for _, key := range contexts.Keys() {
		if _, ok := wanted[key]; !ok {
			contexts.Delete(key, ts)
		}
	}
	for key := range wanted {
		contexts.Set(key, ts, true)
	}
}

// CRDTToLexeme projects doc's root map to a Lexeme, returning false if
// the root map is empty. Contexts is keys(contexts map), unordered.
func CRDTToLexeme(doc *crdtdoc.Document) (entity.Lexeme, bool) {
	root := doc.Root()
	if root.Len() == 0 {
		return entity.Lexeme{}, false
	}
	snapshot := root.Snapshot()

	lex := entity.Lexeme{
		Key:   entity.LexemeKey(asString(snapshot["key"])),
		Value: asString(snapshot["value"]),
	}
	if contextsRaw, ok := crdtdoc.AsMapShape(snapshot["contexts"]); ok {
		lex.Contexts = make([]entity.ThoughtID, 0, len(contextsRaw))
		for key := range contextsRaw {
			lex.Contexts = append(lex.Contexts, entity.ThoughtID(key))
		}
	}
	return lex, true
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int:
		return float64(f)
	default:
		return 0
	}
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
