// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"bytes"
	"fmt"
)

// Node is a single rule application. Children of a node immediately follow it
// in pre-order, so the subtree rooted at node i occupies Nodes[i : i+Size].
type Node struct {
	Rule RuleID `json:"rule"`
	// Custom replaces the expansion of a terminal rule (set by byte-level mutations).
	Custom []byte `json:"custom,omitempty"`
	Size   int    `json:"size"`
	Parent int    `json:"parent"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) Len() int {
	return len(t.Nodes)
}

func (t *Tree) Clone() *Tree {
	nodes := make([]Node, len(t.Nodes))
	copy(nodes, t.Nodes)
	for i := range nodes {
		if nodes[i].Custom != nil {
			nodes[i].Custom = append([]byte{}, nodes[i].Custom...)
		}
	}
	return &Tree{Nodes: nodes}
}

// NTerm returns the nonterminal derived by node n.
func (t *Tree) NTerm(ctx *Context, n int) NTermID {
	return ctx.rules[t.Nodes[n].Rule].NT
}

// Children returns indices of direct children of node n.
func (t *Tree) Children(n int) []int {
	var res []int
	end := n + t.Nodes[n].Size
	for c := n + 1; c < end; c += t.Nodes[c].Size {
		res = append(res, c)
	}
	return res
}

// Subtree returns a copy of the subtree rooted at node n.
func (t *Tree) Subtree(n int) *Tree {
	size := t.Nodes[n].Size
	sub := &Tree{Nodes: make([]Node, size)}
	copy(sub.Nodes, t.Nodes[n:n+size])
	for i := range sub.Nodes {
		sub.Nodes[i].Parent -= n
		if sub.Nodes[i].Custom != nil {
			sub.Nodes[i].Custom = append([]byte{}, sub.Nodes[i].Custom...)
		}
	}
	sub.Nodes[0].Parent = -1
	return sub
}

// Replace returns a new tree where the subtree at node n is replaced
// with the subtree of other rooted at node m. Neither input is modified.
func (t *Tree) Replace(n int, other *Tree, m int) *Tree {
	oldSize := t.Nodes[n].Size
	repl := other.Subtree(m)
	nodes := make([]Node, 0, len(t.Nodes)-oldSize+repl.Len())
	nodes = append(nodes, t.Nodes[:n]...)
	nodes = append(nodes, repl.Nodes...)
	nodes = append(nodes, t.Nodes[n+oldSize:]...)
	res := &Tree{Nodes: nodes}
	for i := range res.Nodes {
		if res.Nodes[i].Custom != nil {
			res.Nodes[i].Custom = append([]byte{}, res.Nodes[i].Custom...)
		}
	}
	delta := repl.Len() - oldSize
	for p := t.Nodes[n].Parent; p != -1; p = t.Nodes[p].Parent {
		res.Nodes[p].Size += delta
	}
	res.fixParents()
	return res
}

func (t *Tree) fixParents() {
	if len(t.Nodes) == 0 {
		return
	}
	t.Nodes[0].Parent = -1
	for i := range t.Nodes {
		end := i + t.Nodes[i].Size
		for c := i + 1; c < end; c += t.Nodes[c].Size {
			t.Nodes[c].Parent = i
		}
	}
}

// Validate checks structural consistency of the tree against the grammar
// (e.g. after loading a checkpoint).
func (t *Tree) Validate(ctx *Context) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	if t.Nodes[0].Size != len(t.Nodes) {
		return fmt.Errorf("root size %v does not match tree size %v", t.Nodes[0].Size, len(t.Nodes))
	}
	for i, node := range t.Nodes {
		if node.Size < 1 || i+node.Size > len(t.Nodes) {
			return fmt.Errorf("node %v: bad size %v", i, node.Size)
		}
	}
	for i, node := range t.Nodes {
		if int(node.Rule) < 0 || int(node.Rule) >= len(ctx.rules) {
			return fmt.Errorf("node %v: unknown rule %v", i, node.Rule)
		}
		rule := ctx.rules[node.Rule]
		children := t.Children(i)
		if len(children) != len(rule.Children) {
			return fmt.Errorf("node %v: rule %v has %v children, tree has %v",
				i, rule.Pattern, len(rule.Children), len(children))
		}
		for j, c := range children {
			if ctx.rules[t.Nodes[c].Rule].NT != rule.Children[j] {
				return fmt.Errorf("node %v: child %v derives wrong nonterminal", i, j)
			}
		}
	}
	return nil
}

// Unparse renders the tree into a target input.
func (ctx *Context) Unparse(t *Tree) []byte {
	buf := new(bytes.Buffer)
	if len(t.Nodes) != 0 {
		ctx.unparse(buf, t, 0)
	}
	return buf.Bytes()
}

// UnparseNode renders the subtree rooted at node n.
func (ctx *Context) UnparseNode(t *Tree, n int) []byte {
	buf := new(bytes.Buffer)
	ctx.unparse(buf, t, n)
	return buf.Bytes()
}

func (ctx *Context) unparse(buf *bytes.Buffer, t *Tree, n int) int {
	node := &t.Nodes[n]
	if node.Custom != nil {
		buf.Write(node.Custom)
		return n + node.Size
	}
	c := n + 1
	for _, part := range ctx.rules[node.Rule].Parts {
		if part.IsNT {
			c = ctx.unparse(buf, t, c)
			continue
		}
		buf.Write(part.Literal)
	}
	return c
}

// Recursion is a pair of nodes deriving the same nonterminal where Inner is a descendant of Outer.
type Recursion struct {
	Outer int
	Inner int
}

// Recursions returns all recursive node pairs of the tree.
func (t *Tree) Recursions(ctx *Context) []Recursion {
	var res []Recursion
	for i := range t.Nodes {
		nt := t.NTerm(ctx, i)
		for p := t.Nodes[i].Parent; p != -1; p = t.Nodes[p].Parent {
			if t.NTerm(ctx, p) == nt {
				res = append(res, Recursion{Outer: p, Inner: i})
			}
		}
	}
	return res
}
