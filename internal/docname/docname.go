// Package docname implements the bijective encoding between a
// {workspace, kind, id} triple and the flat document name every
// persistence and transport collaborator keys on.
package docname

import (
	"fmt"
	"strings"
)

// Kind enumerates the document kinds this module replicates.
type Kind string

const (
	KindThought Kind = "thought"
	KindLexeme  Kind = "lexeme"
	KindDocLog  Kind = "doclog"
)

// Name is a parsed document name.
type Name struct {
	Workspace string
	Kind      Kind
	// ID is absent (empty) for KindDocLog.
	ID string
}

// Thought returns the bit-exact document name for a thought: "<workspace>/thought/<id>".
func Thought(workspace, id string) string {
	return fmt.Sprintf("%s/thought/%s", workspace, id)
}

// Lexeme returns the bit-exact document name for a lexeme: "<workspace>/lexeme/<key>".
func Lexeme(workspace, key string) string {
	return fmt.Sprintf("%s/lexeme/%s", workspace, key)
}

// DocLog returns the bit-exact singleton document name for a workspace's
// doclog: "<workspace>/doclog".
func DocLog(workspace string) string {
	return fmt.Sprintf("%s/doclog", workspace)
}

// ErrMissingID is raised when parsing a name known to be well-formed
// fails to yield an id for a kind that requires one — a programmer
// error, not a recoverable I/O failure.
type ErrMissingID struct {
	Name string
}

func (e ErrMissingID) Error() string {
	return fmt.Sprintf("docname: missing id in document name %q", e.Name)
}

// ErrMalformed is returned when name does not parse as any known kind.
type ErrMalformed struct {
	Name string
}

func (e ErrMalformed) Error() string {
	return fmt.Sprintf("docname: malformed document name %q", e.Name)
}

// Parse recovers the {workspace, kind, id} triple from a document name
// produced by Thought, Lexeme, or DocLog.
func Parse(name string) (Name, error) {
	parts := strings.Split(name, "/")
	switch len(parts) {
	case 2:
		if parts[1] != string(KindDocLog) {
			return Name{}, ErrMalformed{Name: name}
		}
		return Name{Workspace: parts[0], Kind: KindDocLog}, nil
	case 3:
		workspace, kind, id := parts[0], Kind(parts[1]), parts[2]
		switch kind {
		case KindThought, KindLexeme:
			if id == "" {
				return Name{}, ErrMissingID{Name: name}
			}
			return Name{Workspace: workspace, Kind: kind, ID: id}, nil
		default:
			return Name{}, ErrMalformed{Name: name}
		}
	default:
		return Name{}, ErrMalformed{Name: name}
	}
}
