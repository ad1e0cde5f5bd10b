// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"math/rand"
)

type generator struct {
	ctx   *Context
	rnd   *rand.Rand
	nodes []Node
}

func (g *generator) gen(nt NTermID, budget, parent, depth int) {
	rule := g.ctx.rules[g.pickRule(nt, budget, depth)]
	g.genRule(rule, budget, parent, depth)
}

func (g *generator) genRule(rule *Rule, budget, parent, depth int) {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{Rule: rule.ID, Parent: parent})
	remaining := budget - 1
	reserved := 0
	for _, child := range rule.Children {
		reserved += g.ctx.ntMin[child]
	}
	for i, child := range rule.Children {
		minSize := g.ctx.ntMin[child]
		reserved -= minSize
		childBudget := minSize
		if extra := remaining - reserved - minSize; extra > 0 && g.rnd != nil {
			childBudget += g.rnd.Intn(extra/(len(rule.Children)-i) + 1)
		}
		before := len(g.nodes)
		g.gen(child, childBudget, idx, depth+1)
		remaining -= len(g.nodes) - before
	}
	g.nodes[idx].Size = len(g.nodes) - idx
}

func (g *generator) pickRule(nt NTermID, budget, depth int) RuleID {
	rules := g.ctx.ntRules[nt]
	if g.rnd == nil {
		return g.ctx.MinimalRule(nt)
	}
	if g.ctx.dumb {
		if depth >= dumbMaxDepth {
			return g.ctx.MinimalRule(nt)
		}
		return rules[g.rnd.Intn(len(rules))]
	}
	var fits []RuleID
	for _, id := range rules {
		if g.ctx.ruleMin[id] <= budget {
			fits = append(fits, id)
		}
	}
	if len(fits) == 0 {
		return g.ctx.MinimalRule(nt)
	}
	return fits[g.rnd.Intn(len(fits))]
}
