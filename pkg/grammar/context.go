// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package grammar implements context-free grammars and syntax trees derived from them.
// Trees are generated with a size budget using per-rule minimal derivation sizes,
// unparsed into target inputs and mutated by the harness stages.
package grammar

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	// StartSymbol is the root nonterminal synthesized by grammar loaders.
	StartSymbol = "START"

	// Maximum tree depth in dumb mode.
	dumbMaxDepth = 64
)

// Context holds the rule set. After Initialize it is read-only
// and can be shared between workers (Clone is cheap).
type Context struct {
	rules     []*Rule
	ntNames   []string
	ntIDs     map[string]NTermID
	ntRules   [][]RuleID
	ruleMin   []int
	ntMin     []int
	maxLen    int
	dumb      bool
	ready     bool
	ruleIndex map[string]RuleID
}

func NewContext() *Context {
	return &Context{
		ntIDs:     make(map[string]NTermID),
		ruleIndex: make(map[string]RuleID),
	}
}

// SetDumb disables size-aware rule selection during generation;
// rules are chosen uniformly and only the tree depth is bounded.
func (ctx *Context) SetDumb(dumb bool) {
	ctx.dumb = dumb
}

func (ctx *Context) Dumb() bool {
	return ctx.dumb
}

func (ctx *Context) ntermID(name string) NTermID {
	if id, ok := ctx.ntIDs[name]; ok {
		return id
	}
	id := NTermID(len(ctx.ntNames))
	ctx.ntIDs[name] = id
	ctx.ntNames = append(ctx.ntNames, name)
	ctx.ntRules = append(ctx.ntRules, nil)
	return id
}

// AddRule registers production nt -> pattern. Duplicate rules are ignored.
func (ctx *Context) AddRule(nt, pattern string) (RuleID, error) {
	if ctx.ready {
		return 0, fmt.Errorf("adding rule %v to an initialized context", nt)
	}
	if !validName(nt) {
		return 0, fmt.Errorf("bad nonterminal name %q", nt)
	}
	key := nt + "\x00" + pattern
	if id, ok := ctx.ruleIndex[key]; ok {
		return id, nil
	}
	raw, err := parsePattern(pattern)
	if err != nil {
		return 0, err
	}
	rule := &Rule{
		ID:      RuleID(len(ctx.rules)),
		NT:      ctx.ntermID(nt),
		Pattern: pattern,
	}
	for _, p := range raw {
		if p.nt == "" {
			rule.Parts = append(rule.Parts, Part{Literal: p.literal})
			continue
		}
		child := ctx.ntermID(p.nt)
		rule.Parts = append(rule.Parts, Part{NT: child, IsNT: true})
		rule.Children = append(rule.Children, child)
	}
	ctx.rules = append(ctx.rules, rule)
	ctx.ntRules[rule.NT] = append(ctx.ntRules[rule.NT], rule.ID)
	ctx.ruleIndex[key] = rule.ID
	return rule.ID, nil
}

// Initialize computes minimal derivation sizes (in tree nodes) for all rules and
// nonterminals and freezes the context. maxLen is the default generation budget.
func (ctx *Context) Initialize(maxLen int) error {
	if maxLen < 1 {
		return fmt.Errorf("bad max tree size %v", maxLen)
	}
	if len(ctx.rules) == 0 {
		return fmt.Errorf("grammar has no rules")
	}
	for nt, rules := range ctx.ntRules {
		if len(rules) == 0 {
			return fmt.Errorf("nonterminal %v is used but not defined", ctx.ntNames[nt])
		}
	}
	ctx.ruleMin = make([]int, len(ctx.rules))
	ctx.ntMin = make([]int, len(ctx.ntNames))
	for i := range ctx.ruleMin {
		ctx.ruleMin[i] = math.MaxInt
	}
	for i := range ctx.ntMin {
		ctx.ntMin[i] = math.MaxInt
	}
	for changed := true; changed; {
		changed = false
		for _, rule := range ctx.rules {
			size := 1
			for _, child := range rule.Children {
				if ctx.ntMin[child] == math.MaxInt {
					size = math.MaxInt
					break
				}
				size += ctx.ntMin[child]
			}
			if size < ctx.ruleMin[rule.ID] {
				ctx.ruleMin[rule.ID] = size
				changed = true
			}
			if size < ctx.ntMin[rule.NT] {
				ctx.ntMin[rule.NT] = size
				changed = true
			}
		}
	}
	for nt, size := range ctx.ntMin {
		if size == math.MaxInt {
			return fmt.Errorf("nonterminal %v has no finite derivation", ctx.ntNames[nt])
		}
	}
	ctx.maxLen = maxLen
	ctx.ready = true
	return nil
}

// Clone returns a per-worker copy of the context.
// Rule tables are immutable after Initialize and are shared.
func (ctx *Context) Clone() *Context {
	c := *ctx
	return &c
}

func (ctx *Context) MaxLen() int {
	return ctx.maxLen
}

func (ctx *Context) NumRules() int {
	return len(ctx.rules)
}

func (ctx *Context) NumNTerms() int {
	return len(ctx.ntNames)
}

func (ctx *Context) Rule(id RuleID) *Rule {
	return ctx.rules[id]
}

func (ctx *Context) NTermID(name string) (NTermID, bool) {
	id, ok := ctx.ntIDs[name]
	return id, ok
}

func (ctx *Context) NTermName(id NTermID) string {
	return ctx.ntNames[id]
}

// RulesFor returns all alternatives of the nonterminal.
func (ctx *Context) RulesFor(nt NTermID) []RuleID {
	return ctx.ntRules[nt]
}

// MinSize returns the size of the smallest tree derivable from the nonterminal.
func (ctx *Context) MinSize(nt NTermID) int {
	return ctx.ntMin[nt]
}

// RuleMinSize returns the size of the smallest tree rooted at the rule.
func (ctx *Context) RuleMinSize(id RuleID) int {
	return ctx.ruleMin[id]
}

// Generate builds a random tree derived from the named nonterminal
// with at most maxLen nodes (or the minimal tree if it does not fit).
func (ctx *Context) Generate(nt string, maxLen int, rnd *rand.Rand) (*Tree, error) {
	if !ctx.ready {
		return nil, fmt.Errorf("context is not initialized")
	}
	id, ok := ctx.ntIDs[nt]
	if !ok {
		return nil, fmt.Errorf("unknown nonterminal %v", nt)
	}
	return ctx.GenerateFrom(id, maxLen, rnd), nil
}

func (ctx *Context) GenerateFrom(nt NTermID, maxLen int, rnd *rand.Rand) *Tree {
	g := &generator{ctx: ctx, rnd: rnd}
	g.gen(nt, maxLen, -1, 0)
	return &Tree{Nodes: g.nodes}
}

// GenerateMinimal builds the smallest tree derivable from the nonterminal.
func (ctx *Context) GenerateMinimal(nt NTermID) *Tree {
	g := &generator{ctx: ctx}
	g.gen(nt, 0, -1, 0)
	return &Tree{Nodes: g.nodes}
}

// MinimalRule returns the alternative of the nonterminal with the smallest derivation.
func (ctx *Context) MinimalRule(nt NTermID) RuleID {
	best := ctx.ntRules[nt][0]
	for _, id := range ctx.ntRules[nt][1:] {
		if ctx.ruleMin[id] < ctx.ruleMin[best] {
			best = id
		}
	}
	return best
}

// GenerateRule builds the smallest tree whose root applies the given rule.
func (ctx *Context) GenerateRule(id RuleID) *Tree {
	g := &generator{ctx: ctx}
	g.genRule(ctx.rules[id], 0, -1, 0)
	return &Tree{Nodes: g.nodes}
}
