// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package queue holds inputs that found new coverage and their mutation stage.
// Queue is not synchronized, it lives inside the campaign state and is guarded by its lock.
package queue

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/log"
	"github.com/google/gramfuzz/pkg/osutil"
)

type Item struct {
	ID    int           `json:"id"`
	Tree  *grammar.Tree `json:"tree"`
	Stage Stage         `json:"stage"`
	// FreshBits are coverage map indices first reached by this item.
	FreshBits []int `json:"fresh_bits"`
	// AllBits are all coverage map indices reached by this item.
	AllBits    []int         `json:"all_bits"`
	ExitReason string        `json:"exit_reason"`
	ExecTime   time.Duration `json:"exec_time"`
}

type Queue struct {
	pending   []*Item
	processed []*Item
	owners    map[int]int
	nextID    int
	dir       string
}

// New creates a queue that saves admitted inputs into dir (if not empty).
func New(dir string) *Queue {
	return &Queue{
		owners: make(map[int]int),
		dir:    dir,
	}
}

// Add admits the tree if it covers bits not owned by any queued item.
// data is the unparsed tree, bits are indices of nonzero coverage map entries.
func (q *Queue) Add(tree *grammar.Tree, data []byte, bits []int, reason string, execTime time.Duration) (*Item, bool) {
	var fresh []int
	for _, bit := range bits {
		if _, ok := q.owners[bit]; !ok {
			fresh = append(fresh, bit)
		}
	}
	if len(fresh) == 0 {
		return nil, false
	}
	item := &Item{
		ID:         q.nextID,
		Tree:       tree,
		Stage:      Init(0),
		FreshBits:  fresh,
		AllBits:    append([]int{}, bits...),
		ExitReason: reason,
		ExecTime:   execTime,
	}
	q.nextID++
	for _, bit := range fresh {
		q.owners[bit] = item.ID
	}
	q.pending = append(q.pending, item)
	if q.dir != "" {
		fn := filepath.Join(q.dir, fmt.Sprintf("id:%09d,er:%v", item.ID, reason))
		if err := osutil.WriteFile(fn, data); err != nil {
			log.Logf(0, "failed to save queue item: %v", err)
		}
	}
	return item, true
}

// Pop removes and returns the first pending item, or nil if there are none.
func (q *Queue) Pop() *Item {
	if len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return item
}

// Finished returns a processed item to the queue. It becomes pending again after NewRound.
func (q *Queue) Finished(item *Item) {
	q.processed = append(q.processed, item)
}

// NewRound makes all processed items pending again.
func (q *Queue) NewRound() {
	q.pending = append(q.pending, q.processed...)
	q.processed = nil
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Total returns the number of items held by the queue.
func (q *Queue) Total() int {
	return len(q.pending) + len(q.processed)
}

// Owns says if some queued item owns the coverage bit.
func (q *Queue) Owns(bit int) bool {
	_, ok := q.owners[bit]
	return ok
}

// Items returns all items held by the queue (items being processed by workers are not included).
func (q *Queue) Items() []*Item {
	res := make([]*Item, 0, q.Total())
	res = append(res, q.pending...)
	return append(res, q.processed...)
}

// Restore replaces queue contents with items loaded from a checkpoint.
func (q *Queue) Restore(items []*Item) {
	q.pending = append([]*Item{}, items...)
	q.processed = nil
	q.owners = make(map[int]int)
	q.nextID = 0
	for _, item := range items {
		for _, bit := range item.FreshBits {
			q.owners[bit] = item.ID
		}
		if item.ID >= q.nextID {
			q.nextID = item.ID + 1
		}
	}
}
