// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package chunkstore keeps subtrees harvested from interesting inputs.
// Splicing replaces a node of the current tree with a stored chunk deriving the same nonterminal.
package chunkstore

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/hash"
)

type Chunk struct {
	NT   string        `json:"nt"`
	Data []byte        `json:"data"`
	Tree *grammar.Tree `json:"tree"`
}

func (c *Chunk) Sig() hash.Sig {
	return hash.Hash([]byte(c.NT), []byte{0}, c.Data)
}

// ChunkStore is not synchronized, access it through Wrapper.
type ChunkStore struct {
	chunks []*Chunk
	seen   map[hash.Sig]bool
	byNT   map[string][]int
	trees  int
}

func New() *ChunkStore {
	return &ChunkStore{
		seen: make(map[hash.Sig]bool),
		byNT: make(map[string][]int),
	}
}

// AddTree stores all not yet seen subtrees of the tree and returns the number of new chunks.
func (cs *ChunkStore) AddTree(tree *grammar.Tree, ctx *grammar.Context) int {
	added := 0
	for n := 0; n < tree.Len(); n++ {
		chunk := &Chunk{
			NT:   ctx.NTermName(tree.NTerm(ctx, n)),
			Data: ctx.UnparseNode(tree, n),
		}
		if cs.seen[chunk.Sig()] {
			continue
		}
		chunk.Tree = tree.Subtree(n)
		cs.add(chunk)
		added++
	}
	cs.trees++
	return added
}

// AddChunk stores a single chunk (used to restore checkpoints).
func (cs *ChunkStore) AddChunk(chunk *Chunk) bool {
	if cs.seen[chunk.Sig()] {
		return false
	}
	cs.add(chunk)
	return true
}

func (cs *ChunkStore) add(chunk *Chunk) {
	cs.seen[chunk.Sig()] = true
	cs.byNT[chunk.NT] = append(cs.byNT[chunk.NT], len(cs.chunks))
	cs.chunks = append(cs.chunks, chunk)
}

// RandomChunk returns a random chunk deriving the nonterminal nt.
func (cs *ChunkStore) RandomChunk(nt string, rnd *rand.Rand) *Chunk {
	idx := cs.byNT[nt]
	if len(idx) == 0 {
		return nil
	}
	return cs.chunks[idx[rnd.Intn(len(idx))]]
}

// Trees returns the number of trees added to the store.
func (cs *ChunkStore) Trees() int {
	return cs.trees
}

func (cs *ChunkStore) SetTrees(n int) {
	cs.trees = n
}

func (cs *ChunkStore) Len() int {
	return len(cs.chunks)
}

func (cs *ChunkStore) Chunks() []*Chunk {
	return cs.chunks
}

// Wrapper guards the store with a read/write lock. Busy is set while a writer
// holds the lock and is only used for liveness monitoring.
type Wrapper struct {
	mu    sync.RWMutex
	busy  atomic.Bool
	store *ChunkStore
}

func NewWrapper(store *ChunkStore) *Wrapper {
	if store == nil {
		store = New()
	}
	return &Wrapper{store: store}
}

func (w *Wrapper) Read(fn func(cs *ChunkStore)) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	fn(w.store)
}

func (w *Wrapper) Write(fn func(cs *ChunkStore)) {
	w.busy.Store(true)
	defer w.busy.Store(false)
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(w.store)
}

func (w *Wrapper) Busy() bool {
	return w.busy.Load()
}

// SetBusy marks the store as busy without taking the lock (used by tests to simulate stalled writers).
func (w *Wrapper) SetBusy(v bool) {
	w.busy.Store(v)
}
