package domain

import (
	"fmt"
	"strings"
)

// CommentKind names the kind of code entity a chain is attached to.
type CommentKind string

const (
	KindGlobalCodeNode    CommentKind = "global_code_node"
	KindLocalCodeNode     CommentKind = "local_code_node"
	KindGlobalInstruction CommentKind = "global_instruction"
	KindLocalInstruction  CommentKind = "local_instruction"
	KindFunction          CommentKind = "function"
	KindEdge              CommentKind = "edge"
	KindGroupNode         CommentKind = "group_node"
	KindTextNode          CommentKind = "text_node"
	KindTypeInstance      CommentKind = "type_instance"
	KindSection           CommentKind = "section"
)

var knownKinds = map[CommentKind]struct{}{
	KindGlobalCodeNode:    {},
	KindLocalCodeNode:     {},
	KindGlobalInstruction: {},
	KindLocalInstruction:  {},
	KindFunction:          {},
	KindEdge:              {},
	KindGroupNode:         {},
	KindTextNode:          {},
	KindTypeInstance:      {},
	KindSection:           {},
}

// EntityKey builds the opaque key string callers hand to the engine.
// The engine itself only compares keys for equality.
type EntityKey struct {
	Kind     CommentKind
	Module   string
	Node     string
	Position string
}

// String renders the key as kind:module:node[:position].
func (k EntityKey) String() string {
	parts := []string{string(k.Kind), k.Module, k.Node}
	if k.Position != "" {
		parts = append(parts, k.Position)
	}
	return strings.Join(parts, ":")
}

// Validate checks that the key has a known kind and the parts every kind needs.
func (k EntityKey) Validate() error {
	if _, ok := knownKinds[k.Kind]; !ok {
		return fmt.Errorf("%w: unknown comment kind %q", ErrInvalidArgument, k.Kind)
	}
	if k.Module == "" {
		return fmt.Errorf("%w: entity key needs a module", ErrInvalidArgument)
	}
	if k.Node == "" {
		return fmt.Errorf("%w: entity key needs a node", ErrInvalidArgument)
	}
	switch k.Kind {
	case KindGlobalInstruction, KindLocalInstruction:
		if k.Position == "" {
			return fmt.Errorf("%w: %s key needs an instruction position", ErrInvalidArgument, k.Kind)
		}
	}
	return nil
}

// ParseEntityKey is the inverse of EntityKey.String.
func ParseEntityKey(s string) (EntityKey, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 3 {
		return EntityKey{}, fmt.Errorf("%w: malformed entity key %q", ErrInvalidArgument, s)
	}
	k := EntityKey{Kind: CommentKind(parts[0]), Module: parts[1], Node: parts[2]}
	if len(parts) == 4 {
		k.Position = parts[3]
	}
	return k, k.Validate()
}
