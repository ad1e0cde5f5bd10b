// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package campaign

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/queue"
	"github.com/google/gramfuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrain(t *testing.T) {
	s := New(queue.New(""), 16)
	var local Counters
	var base Baseline

	local.Execs = 10
	local.Throughput = 100
	local.Found[StrategyHavoc] = 2
	s.Drain(&local, &base, false)
	snap := s.Snapshot()
	assert.Equal(t, uint64(10), snap.ExecCount)
	assert.Equal(t, int64(100), snap.Throughput)
	assert.Equal(t, uint64(2), snap.Found[StrategyHavoc])
	assert.Equal(t, uint64(0), local.Found[StrategyHavoc])

	// Nothing new: draining again must not double count.
	s.Drain(&local, &base, false)
	snap = s.Snapshot()
	assert.Equal(t, uint64(10), snap.ExecCount)
	assert.Equal(t, int64(100), snap.Throughput)
	assert.Equal(t, uint64(2), snap.Found[StrategyHavoc])

	local.Execs = 15
	local.Throughput = 80
	s.Drain(&local, &base, false)
	snap = s.Snapshot()
	assert.Equal(t, uint64(15), snap.ExecCount)
	assert.Equal(t, int64(80), snap.Throughput)
}

func TestDrainAfterRestart(t *testing.T) {
	s := New(queue.New(""), 16)
	var base Baseline
	old := &Counters{Execs: 50, Throughput: 30}
	s.Drain(old, &base, false)

	// The harness died, the worker builds a new one and resets the baseline.
	fresh := &Counters{}
	base.Reset()
	s.Drain(fresh, &base, false)
	assert.Equal(t, uint64(50), s.Snapshot().ExecCount)

	fresh.Execs = 5
	fresh.Throughput = 10
	s.Drain(fresh, &base, false)
	snap := s.Snapshot()
	assert.Equal(t, uint64(55), snap.ExecCount)
	// Throughput gauge: 30 from the dead harness is never subtracted.
	assert.Equal(t, int64(40), snap.Throughput)

	// Without a reset a smaller reading must not underflow.
	stale := &Counters{Execs: 1}
	s.Drain(stale, &base, false)
	assert.Equal(t, uint64(56), s.Snapshot().ExecCount)
}

func TestDrainGenOnly(t *testing.T) {
	s := New(queue.New(""), 16)
	var base Baseline
	local := &Counters{Execs: 3}
	local.Found[StrategyGen] = 1
	local.Found[StrategyHavoc] = 4
	s.Drain(local, &base, true)
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Found[StrategyGen])
	assert.Equal(t, uint64(0), snap.Found[StrategyHavoc])
	assert.Equal(t, uint64(4), local.Found[StrategyHavoc])
	assert.Equal(t, uint64(3), snap.ExecCount)
}

func TestConcurrentDrain(t *testing.T) {
	s := New(queue.New(""), 16)
	const workers = 8
	rnd := rand.New(testutil.RandSource(t))
	steps := make([][]int, workers)
	var want [NumStrategies]uint64
	var wantExecs uint64
	for w := range steps {
		for i := 0; i < testutil.IterCount(); i++ {
			v := rnd.Intn(3)
			steps[w] = append(steps[w], v)
			want[Strategy(i%int(NumStrategies))] += uint64(v)
			wantExecs += uint64(v)
		}
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(steps []int) {
			defer wg.Done()
			var local Counters
			var base Baseline
			for i, v := range steps {
				local.Execs += uint64(v)
				local.Found[Strategy(i%int(NumStrategies))] += uint64(v)
				s.Drain(&local, &base, false)
				for _, f := range local.Found {
					if f != 0 {
						t.Errorf("local counter is not zero after drain")
					}
				}
			}
		}(steps[w])
	}
	wg.Wait()
	snap := s.Snapshot()
	assert.Equal(t, want, snap.Found)
	assert.Equal(t, wantExecs, snap.ExecCount)
}

func TestQueueOps(t *testing.T) {
	s := New(queue.New(""), 16)
	assert.Nil(t, s.Pop())
	tree := &grammar.Tree{Nodes: []grammar.Node{{Size: 1, Parent: -1}}}
	var item *queue.Item
	s.Do(func(sh *Shared) {
		item, _ = sh.Queue.Add(tree, nil, []int{1}, "normal", 0)
	})
	require.NotNil(t, item)
	assert.Equal(t, 1, s.Snapshot().QueueLen)
	got := s.Pop()
	assert.Equal(t, item, got)
	s.Finished(got)
	assert.Equal(t, 0, s.Snapshot().QueueLen)
	s.NewRound()
	assert.Equal(t, 1, s.Snapshot().QueueLen)
}

func TestCrashes(t *testing.T) {
	s := New(queue.New(""), 16)
	assert.True(t, s.Snapshot().Crashes[CrashSignal].Last.IsZero())
	s.RecordCrash(CrashSignal, "SIGSEGV")
	s.RecordCrash(CrashSignal, "SIGABRT")
	s.RecordCrash(CrashTimeout, "")
	snap := s.Snapshot()
	assert.Equal(t, 2, snap.Crashes[CrashSignal].Total)
	assert.Equal(t, "SIGABRT", snap.Crashes[CrashSignal].Title)
	assert.Equal(t, 1, snap.Crashes[CrashTimeout].Total)
	assert.Equal(t, 0, snap.Crashes[CrashSanitizer].Total)

	assert.Equal(t, "none", snap.StateSaved)
	s.SetSaved(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "[2024-01-02] 03:04:05", s.Snapshot().StateSaved)
	assert.NotEmpty(t, s.ID)
}

func TestStrategyNames(t *testing.T) {
	assert.Equal(t, "min_rec", StrategyMinRec.String())
	assert.Equal(t, "Havoc Rec", StrategyHavocRec.Title())
	assert.Equal(t, "Strategy(42)", Strategy(42).String())
	assert.Equal(t, "sanitizer", CrashSanitizer.String())
}
