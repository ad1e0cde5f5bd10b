// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package queue

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"
)

type StageKind int

const (
	StageInit StageKind = iota
	StageDet
	StageDetAFL
	StageRandom
)

var stageNames = [...]string{
	StageInit:   "init",
	StageDet:    "det",
	StageDetAFL: "det_afl",
	StageRandom: "random",
}

func (k StageKind) String() string {
	if k < 0 || int(k) >= len(stageNames) {
		return fmt.Sprintf("StageKind(%d)", int(k))
	}
	return stageNames[k]
}

// Stage describes where an item is in its mutation lifecycle.
// Cursor is a node index of the item's tree, Cycle is the number of completed
// deterministic passes and is only meaningful for StageDet.
type Stage struct {
	Kind   StageKind
	Cycle  int
	Cursor int
}

// InitWindow is the number of tree positions minimized per step.
const InitWindow = 200

func Init(cursor int) Stage {
	return Stage{Kind: StageInit, Cursor: cursor}
}

func Det(cycle, cursor int) Stage {
	return Stage{Kind: StageDet, Cycle: cycle, Cursor: cursor}
}

func DetAFL(cursor int) Stage {
	return Stage{Kind: StageDetAFL, Cursor: cursor}
}

func Random() Stage {
	return Stage{Kind: StageRandom}
}

// Window returns the range of tree positions processed by the next step.
func (s Stage) Window() (start, end int) {
	switch s.Kind {
	case StageInit:
		return s.Cursor, s.Cursor + InitWindow
	case StageDet, StageDetAFL:
		return s.Cursor, s.Cursor + 1
	case StageRandom:
		return 0, 0
	default:
		panic(fmt.Sprintf("unknown stage %v", s.Kind))
	}
}

// Next returns the stage after one step. done says that the primary operation
// of the step exhausted its position space.
func (s Stage) Next(done bool, detCycles int) Stage {
	switch s.Kind {
	case StageInit:
		if done {
			return Det(0, 0)
		}
		return Init(s.Cursor + InitWindow)
	case StageDet:
		if !done {
			return Det(s.Cycle, s.Cursor+1)
		}
		if s.Cycle >= detCycles {
			return DetAFL(0)
		}
		return Det(s.Cycle+1, 0)
	case StageDetAFL:
		if done {
			return Random()
		}
		return DetAFL(s.Cursor + 1)
	case StageRandom:
		return s
	default:
		panic(fmt.Sprintf("unknown stage %v", s.Kind))
	}
}

// Less orders stages by lifecycle progress.
func (s Stage) Less(other Stage) bool {
	if s.Kind != other.Kind {
		return s.Kind < other.Kind
	}
	if s.Cycle != other.Cycle {
		return s.Cycle < other.Cycle
	}
	return s.Cursor < other.Cursor
}

// Supplementary says if steps of the stage also run splice, havoc and havoc-recursion.
func (s Stage) Supplementary() bool {
	return s.Kind != StageInit
}

func (s Stage) String() string {
	switch s.Kind {
	case StageInit, StageDetAFL:
		return fmt.Sprintf("%v(%v)", s.Kind, s.Cursor)
	case StageDet:
		return fmt.Sprintf("%v(%v, %v)", s.Kind, s.Cycle, s.Cursor)
	default:
		return s.Kind.String()
	}
}

type stageJSON struct {
	Kind   string `json:"kind"`
	Cycle  int    `json:"cycle,omitempty"`
	Cursor int    `json:"cursor,omitempty"`
}

func (s Stage) MarshalJSON() ([]byte, error) {
	return sonnet.Marshal(stageJSON{Kind: s.Kind.String(), Cycle: s.Cycle, Cursor: s.Cursor})
}

func (s *Stage) UnmarshalJSON(data []byte) error {
	var v stageJSON
	if err := sonnet.Unmarshal(data, &v); err != nil {
		return err
	}
	for kind, name := range stageNames {
		if name == v.Kind {
			*s = Stage{Kind: StageKind(kind), Cycle: v.Cycle, Cursor: v.Cursor}
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", v.Kind)
}
