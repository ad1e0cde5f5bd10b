// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package campaign

import "fmt"

// Strategy identifies the mutation stage that discovered an input.
type Strategy int

const (
	StrategyGen Strategy = iota
	StrategyMin
	StrategyMinRec
	StrategyDet
	StrategyDetAFL
	StrategySplice
	StrategyHavoc
	StrategyHavocRec
	NumStrategies
)

var strategyNames = [NumStrategies]string{
	StrategyGen:      "gen",
	StrategyMin:      "min",
	StrategyMinRec:   "min_rec",
	StrategyDet:      "det",
	StrategyDetAFL:   "det_afl",
	StrategySplice:   "splice",
	StrategyHavoc:    "havoc",
	StrategyHavocRec: "havoc_rec",
}

var strategyTitles = [NumStrategies]string{
	StrategyGen:      "Gen",
	StrategyMin:      "Min",
	StrategyMinRec:   "Min Rec",
	StrategyDet:      "Det",
	StrategyDetAFL:   "Det Afl",
	StrategySplice:   "Splice",
	StrategyHavoc:    "Havoc",
	StrategyHavocRec: "Havoc Rec",
}

func (s Strategy) String() string {
	if s < 0 || s >= NumStrategies {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// Title is the human-readable name used on the dashboard.
func (s Strategy) Title() string {
	if s < 0 || s >= NumStrategies {
		return s.String()
	}
	return strategyTitles[s]
}

// Counters is the local telemetry of a single harness.
// It is owned by one worker and not synchronized.
type Counters struct {
	Execs uint64
	// Throughput is the harness' current executions per second reading.
	Throughput int64
	Found      [NumStrategies]uint64
}

// Baseline remembers what a worker has already contributed to the global state.
type Baseline struct {
	Execs      uint64
	Throughput int64
}

// Reset is called when the worker replaces its harness.
func (b *Baseline) Reset() {
	*b = Baseline{}
}
