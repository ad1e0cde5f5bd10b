// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package campaign holds process-wide fuzzing state shared by all workers:
// aggregate telemetry, crash statistics, the queue and coverage bitmaps.
// Everything is guarded by a single mutex.
package campaign

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gramfuzz/pkg/log"
	"github.com/google/gramfuzz/pkg/queue"
	"github.com/google/gramfuzz/pkg/stat"
	"github.com/google/uuid"
)

type CrashKind int

const (
	CrashSignal CrashKind = iota
	CrashSanitizer
	CrashTimeout
	NumCrashKinds
)

func (k CrashKind) String() string {
	switch k {
	case CrashSignal:
		return "signal"
	case CrashSanitizer:
		return "sanitizer"
	case CrashTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("CrashKind(%d)", int(k))
	}
}

type CrashStats struct {
	// Last is the time of the last crash, zero if there were none.
	Last  time.Time
	Title string
	Total int
}

// TimeFormat is used for crash and checkpoint timestamps.
const TimeFormat = "[2006-01-02] 15:04:05"

// Shared is the data guarded by the State lock.
type Shared struct {
	ExecCount  uint64
	Throughput int64
	Found      [NumStrategies]uint64
	Crashes    [NumCrashKinds]CrashStats
	StateSaved string
	Queue      *queue.Queue
	// Bitmaps are virgin coverage maps keyed by "run crashed".
	Bitmaps map[bool][]byte
}

type State struct {
	ID    string
	Start time.Time

	mu     sync.Mutex
	shared Shared
}

func New(q *queue.Queue, bitmapSize int) *State {
	return &State{
		ID:    uuid.New().String(),
		Start: time.Now(),
		shared: Shared{
			StateSaved: "none",
			Queue:      q,
			Bitmaps: map[bool][]byte{
				false: make([]byte, bitmapSize),
				true:  make([]byte, bitmapSize),
			},
		},
	}
}

// Do runs fn with the state lock held.
func (s *State) Do(fn func(sh *Shared)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.shared)
}

func (s *State) Pop() *queue.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shared.Queue.Pop()
}

func (s *State) Finished(item *queue.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared.Queue.Finished(item)
}

func (s *State) NewRound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared.Queue.NewRound()
}

// Drain moves the worker's local telemetry into the global state.
// Execution count and throughput are delta-added against the baseline,
// discovery counters are added and zeroed. With genOnly only the generation
// counter is drained (no-feedback mode).
func (s *State) Drain(local *Counters, base *Baseline, genOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if local.Execs < base.Execs {
		log.Logf(0, "execution count went backwards (%v < %v), resetting baseline", local.Execs, base.Execs)
		base.Reset()
	}
	s.shared.ExecCount += local.Execs - base.Execs
	base.Execs = local.Execs
	s.shared.Throughput += local.Throughput - base.Throughput
	base.Throughput = local.Throughput
	for i := range local.Found {
		if genOnly && Strategy(i) != StrategyGen {
			continue
		}
		if local.Found[i] != 0 {
			s.shared.Found[i] += local.Found[i]
			local.Found[i] = 0
		}
	}
}

func (s *State) RecordCrash(kind CrashKind, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared.RecordCrash(kind, title)
}

// RecordCrash is the lock-held variant used by the harness while it updates bitmaps.
func (sh *Shared) RecordCrash(kind CrashKind, title string) {
	c := &sh.Crashes[kind]
	c.Last = time.Now()
	c.Title = title
	c.Total++
}

func (s *State) SetSaved(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared.StateSaved = t.Format(TimeFormat)
}

// Snapshot is a copy of the state taken under the lock.
type Snapshot struct {
	ExecCount  uint64
	Throughput int64
	QueueLen   int
	Found      [NumStrategies]uint64
	Crashes    [NumCrashKinds]CrashStats
	StateSaved string
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ExecCount:  s.shared.ExecCount,
		Throughput: s.shared.Throughput,
		QueueLen:   s.shared.Queue.Len(),
		Found:      s.shared.Found,
		Crashes:    s.shared.Crashes,
		StateSaved: s.shared.StateSaved,
	}
}

// RegisterMetrics exports campaign counters as metrics.
func (s *State) RegisterMetrics() {
	snap := func(fn func(Snapshot) int) func() int {
		return func() int { return fn(s.Snapshot()) }
	}
	stat.New("exec total", "Total test program executions", stat.Console, stat.Rate{},
		stat.Prometheus("gramfuzz_exec_total"), snap(func(v Snapshot) int { return int(v.ExecCount) }))
	stat.New("exec/sec", "Approximate executions per second", stat.Console,
		stat.Prometheus("gramfuzz_execs_per_sec"), snap(func(v Snapshot) int { return int(v.Throughput) }))
	stat.New("queue", "Pending inputs in the queue", stat.Console,
		stat.Prometheus("gramfuzz_queue_len"), snap(func(v Snapshot) int { return v.QueueLen }))
	for i := Strategy(0); i < NumStrategies; i++ {
		strategy := i
		stat.New("found by "+strategy.String(), "New paths found by "+strategy.Title(), stat.Simple,
			stat.Prometheus("gramfuzz_found_"+strategy.String()),
			snap(func(v Snapshot) int { return int(v.Found[strategy]) }))
	}
	for i := CrashKind(0); i < NumCrashKinds; i++ {
		kind := i
		stat.New(kind.String()+" crashes", "Total "+kind.String()+" crashes", stat.Console,
			stat.Prometheus("gramfuzz_crashes_"+kind.String()),
			snap(func(v Snapshot) int { return v.Crashes[kind].Total }))
	}
}
