// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer implements the per-worker scheduling loop: it pops inputs from the queue,
// advances them through the mutation stages and restarts the target when it dies.
package fuzzer

import (
	"fmt"

	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/queue"
)

// Harness executes mutation stages against one live target, harness.Harness implements it.
// Windowed operations return true when the item's position space is exhausted.
type Harness interface {
	Minimize(item *queue.Item, start, end int) (bool, error)
	DeterministicTreeMutation(item *queue.Item, start, end int) (bool, error)
	DeterministicAFLMutation(item *queue.Item, start, end int) (bool, error)
	Splice(item *queue.Item) error
	Havoc(item *queue.Item) error
	HavocRecursion(item *queue.Item) error
	GenerateRandom(nt string) error
	Counters() *campaign.Counters
	Close() error
}

// ProcessInput advances the item by one step of its current stage.
// All stages except init also run splice, havoc and havoc-recursion on every step.
// The stage advances once the primary operation succeeds, failures of the
// supplementary operations are still returned but do not undo the transition.
func ProcessInput(h Harness, item *queue.Item, detCycles int) error {
	start, end := item.Stage.Window()
	done := false
	var err error
	switch item.Stage.Kind {
	case queue.StageInit:
		done, err = h.Minimize(item, start, end)
	case queue.StageDet:
		done, err = h.DeterministicTreeMutation(item, start, end)
	case queue.StageDetAFL:
		done, err = h.DeterministicAFLMutation(item, start, end)
	case queue.StageRandom:
	default:
		return fmt.Errorf("item %v has unknown stage %v", item.ID, item.Stage)
	}
	if err != nil {
		return err
	}
	supplementary := item.Stage.Supplementary()
	item.Stage = item.Stage.Next(done, detCycles)
	if supplementary {
		if err := h.Splice(item); err != nil {
			return err
		}
		if err := h.Havoc(item); err != nil {
			return err
		}
		if err := h.HavocRecursion(item); err != nil {
			return err
		}
	}
	return nil
}
