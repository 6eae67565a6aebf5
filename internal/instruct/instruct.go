// Package instruct holds the user-authored instruction tree and extracts the
// instructions tagged for a phase, resolving inherited attributes on the way.
package instruct

import (
	"errors"

	"starstep/internal/attrs"
	"starstep/internal/phase"
	"starstep/internal/transform"
)

// ErrNoRoot is reported when extraction is asked to walk a missing tree.
var ErrNoRoot = errors.New("instruction tree root is missing")

// Node is a step in the instruction tree. A node with children is a
// container; a node with a transform and no children is a leaf.
type Node struct {
	Name        string
	Description string
	Transform   transform.Transform
	Children    []*Node
}

// IsContainer reports whether n groups other nodes.
func (n *Node) IsContainer() bool {
	return len(n.Children) > 0
}

// Leaves counts the leaves below n, n included when it is a leaf.
func (n *Node) Leaves() int {
	if n == nil {
		return 0
	}
	if !n.IsContainer() {
		if n.Transform == nil {
			return 0
		}
		return 1
	}
	total := 0
	for _, c := range n.Children {
		total += c.Leaves()
	}
	return total
}

// Instruction pairs a transform with its resolved attributes.
type Instruction struct {
	Transform transform.Transform
	Attrs     attrs.Set
}

// Name is the name of the wrapped transform.
func (i Instruction) Name() string {
	if i.Transform == nil {
		return ""
	}
	return i.Transform.Name()
}

// Extract returns the leaves of root, in pre-order, whose resolved step
// attribute matches p. A nil root yields nil.
func Extract(root *Node, p phase.Phase) []Instruction {
	out, _ := ExtractChecked(root, p)
	return out
}

// ExtractChecked is Extract but reports ErrNoRoot for a missing tree so
// the caller can log it before skipping the phase.
func ExtractChecked(root *Node, p phase.Phase) ([]Instruction, error) {
	if root == nil {
		return nil, ErrNoRoot
	}
	var out []Instruction
	walk(root, nil, p, &out)
	return out, nil
}

func walk(n *Node, parent attrs.Set, p phase.Phase, out *[]Instruction) {
	if n == nil {
		return
	}
	set := attrs.Inherit(parent, n.Description)
	if n.IsContainer() {
		for _, c := range n.Children {
			walk(c, set, p, out)
		}
		return
	}
	if n.Transform == nil {
		return
	}
	if !StepMatches(set, p) {
		return
	}
	*out = append(*out, Instruction{Transform: n.Transform, Attrs: set})
}

// StepMatches reports whether the step attribute of set resolves to p.
// Numbers compare numerically, so "02" and "2.0" match phase 2.
func StepMatches(set attrs.Set, p phase.Phase) bool {
	v, ok := set[attrs.StepKey]
	if !ok {
		return false
	}
	got, ok := phase.Parse(v)
	return ok && got == p
}
