// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/chunkstore"
	"github.com/google/gramfuzz/pkg/forkserver"
	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/queue"
)

const (
	spliceRounds   = 100
	havocRounds    = 100
	havocRecRounds = 20
	maxRecPumps    = 4
	// Deterministic AFL mutations only touch this many leading bytes of a terminal.
	detAFLMaxBytes = 32
)

var interestingBytes = []byte{0x00, 0x01, 0x7f, 0x80, 0xff, '\'', '"', '\\', '\n', ' '}

// Minimize shrinks the item tree over nodes [start, end) while it keeps reaching the item's fresh bits.
// Each node is first replaced with the minimal derivation of its nonterminal,
// then with a recursive descendant deriving the same nonterminal.
// The shrunk tree replaces item.Tree only if all executions succeeded.
func (h *Harness) Minimize(item *queue.Item, start, end int) (bool, error) {
	tree := item.Tree
	for n := start; n < end && n < tree.Len(); n++ {
		nt := tree.NTerm(h.ctx, n)
		if tree.Nodes[n].Size > h.ctx.MinSize(nt) {
			cand := tree.Replace(n, h.ctx.GenerateMinimal(nt), 0)
			ok, err := h.keepsBits(cand, item.FreshBits, campaign.StrategyMin)
			if err != nil {
				return false, err
			}
			if ok {
				tree = cand
			}
		}
		for c := n + 1; c < n+tree.Nodes[n].Size; c++ {
			if tree.NTerm(h.ctx, c) != nt {
				continue
			}
			cand := tree.Replace(n, tree, c)
			ok, err := h.keepsBits(cand, item.FreshBits, campaign.StrategyMinRec)
			if err != nil {
				return false, err
			}
			if ok {
				// The node shrank, look at it again.
				tree = cand
				n--
				break
			}
		}
	}
	item.Tree = tree
	return end >= tree.Len(), nil
}

func (h *Harness) keepsBits(tree *grammar.Tree, bits []int, strategy campaign.Strategy) (bool, error) {
	res, err := h.runOn(tree, strategy)
	if err != nil {
		return false, err
	}
	return res.Reason.Kind == forkserver.ExitNormal && forkserver.Covers(res.Trace, bits), nil
}

// DeterministicTreeMutation tries every alternative rule for each node in [start, end).
func (h *Harness) DeterministicTreeMutation(item *queue.Item, start, end int) (bool, error) {
	tree := item.Tree
	for n := start; n < end && n < tree.Len(); n++ {
		for _, rule := range h.ctx.RulesFor(tree.NTerm(h.ctx, n)) {
			if rule == tree.Nodes[n].Rule {
				continue
			}
			cand := tree.Replace(n, h.ctx.GenerateRule(rule), 0)
			if cand.Len() > h.ctx.MaxLen() {
				continue
			}
			if _, err := h.runOn(cand, campaign.StrategyDet); err != nil {
				return false, err
			}
		}
	}
	return end >= tree.Len(), nil
}

// DeterministicAFLMutation applies walking bit flips and interesting bytes
// to terminal nodes in [start, end).
func (h *Harness) DeterministicAFLMutation(item *queue.Item, start, end int) (bool, error) {
	tree := item.Tree
	for n := start; n < end && n < tree.Len(); n++ {
		if !h.ctx.Rule(tree.Nodes[n].Rule).IsTerminal() {
			continue
		}
		data := h.ctx.UnparseNode(tree, n)
		if len(data) > detAFLMaxBytes {
			data = data[:detAFLMaxBytes]
		}
		try := func(mutate func(buf []byte)) error {
			buf := append([]byte{}, h.ctx.UnparseNode(tree, n)...)
			mutate(buf)
			cand := tree.Clone()
			cand.Nodes[n].Custom = buf
			_, err := h.runOn(cand, campaign.StrategyDetAFL)
			return err
		}
		for bit := 0; bit < len(data)*8; bit++ {
			if err := try(func(buf []byte) { buf[bit/8] ^= 1 << (bit % 8) }); err != nil {
				return false, err
			}
		}
		for i := range data {
			for _, v := range interestingBytes {
				if data[i] == v {
					continue
				}
				if err := try(func(buf []byte) { buf[i] = v }); err != nil {
					return false, err
				}
			}
		}
	}
	return end >= tree.Len(), nil
}

// Splice replaces random nodes with chunks of the same nonterminal from the chunk store.
func (h *Harness) Splice(item *queue.Item) error {
	tree := item.Tree
	for i := 0; i < spliceRounds; i++ {
		n := h.rnd.Intn(tree.Len())
		name := h.ctx.NTermName(tree.NTerm(h.ctx, n))
		var chunk *chunkstore.Chunk
		h.chunks.Read(func(cs *chunkstore.ChunkStore) {
			chunk = cs.RandomChunk(name, h.rnd)
		})
		if chunk == nil {
			continue
		}
		cand := tree.Replace(n, chunk.Tree, 0)
		if cand.Len() > h.ctx.MaxLen() {
			continue
		}
		if _, err := h.runOn(cand, campaign.StrategySplice); err != nil {
			return err
		}
	}
	return nil
}

// Havoc regenerates random subtrees within the tree size limit.
func (h *Harness) Havoc(item *queue.Item) error {
	tree := item.Tree
	for i := 0; i < havocRounds; i++ {
		n := h.rnd.Intn(tree.Len())
		budget := h.ctx.MaxLen() - (tree.Len() - tree.Nodes[n].Size)
		sub := h.ctx.GenerateFrom(tree.NTerm(h.ctx, n), budget, h.rnd)
		cand := tree.Replace(n, sub, 0)
		if cand.Len() > h.ctx.MaxLen() {
			continue
		}
		if _, err := h.runOn(cand, campaign.StrategyHavoc); err != nil {
			return err
		}
	}
	return nil
}

// HavocRecursion pumps random recursions of the tree: the inner node of a recursive pair
// is replaced with the outer subtree one or more times.
func (h *Harness) HavocRecursion(item *queue.Item) error {
	tree := item.Tree
	recs := tree.Recursions(h.ctx)
	if len(recs) == 0 {
		return nil
	}
	for i := 0; i < havocRecRounds; i++ {
		rec := recs[h.rnd.Intn(len(recs))]
		step := rec.Inner - rec.Outer
		cand, inner := tree, rec.Inner
		for pump := 1 + h.rnd.Intn(maxRecPumps); pump > 0; pump-- {
			next := cand.Replace(inner, tree, rec.Outer)
			if next.Len() > h.ctx.MaxLen() {
				break
			}
			cand, inner = next, inner+step
		}
		if cand == tree {
			continue
		}
		if _, err := h.runOn(cand, campaign.StrategyHavocRec); err != nil {
			return err
		}
	}
	return nil
}

// GenerateRandom executes a fresh tree derived from the nonterminal.
func (h *Harness) GenerateRandom(nt string) error {
	tree, err := h.ctx.Generate(nt, h.ctx.MaxLen(), h.rnd)
	if err != nil {
		return err
	}
	_, err = h.runOn(tree, campaign.StrategyGen)
	return err
}
