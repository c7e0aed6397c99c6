// Package availability decodes LMS activity availability rules.
//
// An availability value is a JSON tree such as
//
//	{"op":"&","c":[{"type":"group","id":4},{"op":"|","c":[...]}],"showc":[true,true]}
//
// Only group conditions matter to the report; every other condition type is
// kept as an opaque node.
package availability

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags the variant held by a Node.
type Kind int

const (
	// KindTree is a boolean combination of child nodes.
	KindTree Kind = iota
	// KindGroup is a group membership condition.
	KindGroup
	// KindOther is any other condition (date, grade, completion, ...).
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindTree:
		return "tree"
	case KindGroup:
		return "group"
	default:
		return "other"
	}
}

// Node is one element of an availability tree.
type Node struct {
	Kind Kind

	// Tree fields.
	Op       string
	Children []Node

	// Condition fields.
	Type    string
	GroupID int64
	HasID   bool // false for "any group" conditions
}

type rawNode struct {
	Op   *string           `json:"op"`
	C    []json.RawMessage `json:"c"`
	Type string            `json:"type"`
	ID   *json.Number      `json:"id"`
}

// UnmarshalJSON decodes a node and, recursively, its children. A child that
// cannot be decoded becomes an opaque KindOther node.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Op != nil || raw.C != nil {
		n.Kind = KindTree
		if raw.Op != nil {
			n.Op = *raw.Op
		}
		n.Children = make([]Node, 0, len(raw.C))
		for _, c := range raw.C {
			var child Node
			if err := json.Unmarshal(c, &child); err != nil {
				// A broken condition must not hide its valid siblings.
				child = Node{Kind: KindOther}
			}
			n.Children = append(n.Children, child)
		}
		return nil
	}

	n.Type = raw.Type
	if raw.Type != "group" {
		n.Kind = KindOther
		return nil
	}
	n.Kind = KindGroup
	if raw.ID != nil {
		id, err := raw.ID.Int64()
		if err != nil {
			return fmt.Errorf("group id %q: %w", raw.ID.String(), err)
		}
		n.GroupID = id
		n.HasID = true
	}
	return nil
}

// Parse decodes an availability value. An empty or "null" value yields an
// empty tree.
func Parse(raw string) (Node, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return Node{Kind: KindTree}, nil
	}
	var n Node
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return Node{}, fmt.Errorf("parse availability: %w", err)
	}
	return n, nil
}

// Walk calls fn for n and every node below it, depth first.
func (n Node) Walk(fn func(Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// GroupIDs returns the ids of all group conditions in n, in tree order and
// without duplicates. Group conditions without an id are skipped.
func (n Node) GroupIDs() []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	n.Walk(func(c Node) {
		if c.Kind != KindGroup || !c.HasID || seen[c.GroupID] {
			return
		}
		seen[c.GroupID] = true
		ids = append(ids, c.GroupID)
	})
	return ids
}

// GroupIDs parses raw and returns its group ids. Malformed input is treated as
// having no group conditions.
func GroupIDs(raw string) []int64 {
	n, err := Parse(raw)
	if err != nil {
		return nil
	}
	return n.GroupIDs()
}
