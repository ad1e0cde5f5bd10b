// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzconfig

import "time"

type Config struct {
	// Path to the instrumented target binary (required).
	Target string `json:"target" yaml:"target"`
	// Arguments passed to the target. The "@@" argument is replaced with the path
	// of the input file, otherwise the input is passed on stdin.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Location of a working directory for the campaign. Outputs here include:
	// - <workdir>/outputs/queue/*: inputs that found new coverage
	// - <workdir>/outputs/signaled/*: crashing inputs
	// - <workdir>/outputs/timeout/*: inputs that hang the target
	// - <workdir>/outputs/dumped_inputs/*: every executed input (dump_mode only)
	// - <workdir>/saved_*: checkpoints
	Workdir string `json:"workdir" yaml:"workdir"`
	// Grammar file (.json rule list or .g4 ANTLR grammar). Can be overridden on command line.
	Grammar string `json:"grammar" yaml:"grammar"`
	// Number of parallel fuzzing workers.
	Threads int `json:"threads" yaml:"threads"`
	// Accepted for compatibility with older configs, goroutine stacks grow on demand.
	ThreadStackSize int `json:"thread_stack_size,omitempty" yaml:"thread_stack_size,omitempty"`
	// Disable coverage feedback: only generate and execute fresh inputs.
	NoFeedback bool `json:"no_feedback,omitempty" yaml:"no_feedback,omitempty"`
	// Save every executed input into outputs/dumped_inputs.
	DumpMode bool `json:"dump_mode,omitempty" yaml:"dump_mode,omitempty"`
	// Number of additional deterministic tree mutation passes before AFL-style mutations.
	DetCycles int `json:"det_cycles" yaml:"det_cycles"`
	// Number of inputs generated from the start symbol each time the queue runs empty.
	GenerateInputs int `json:"generate_inputs" yaml:"generate_inputs"`
	// Periodically save queue, coverage bitmaps and chunk store.
	SaveState bool `json:"save_state,omitempty" yaml:"save_state,omitempty"`
	// Seconds between checkpoints.
	SaveInterval int `json:"save_interval" yaml:"save_interval"`
	// Accepted for compatibility with older configs.
	SaveThreadStackSize int `json:"save_thread_stack_size,omitempty" yaml:"save_thread_stack_size,omitempty"`
	// Upper bound on the size (in nodes) of generated trees.
	MaxTreeSize int `json:"max_tree_size" yaml:"max_tree_size"`
	// Per-execution timeout in milliseconds.
	Timeout int `json:"timeout" yaml:"timeout"`
	// Size of the coverage map shared with the target.
	BitmapSize int `json:"bitmap_size" yaml:"bitmap_size"`
	// Address to serve prometheus metrics on (e.g. "localhost:56741", optional).
	HTTP string `json:"http,omitempty" yaml:"http,omitempty"`
	// Restore queue, bitmaps and chunk store from the last checkpoint on startup.
	Resume bool `json:"resume,omitempty" yaml:"resume,omitempty"`
	// Keep a sqlite ledger of unique crashes in outputs/crashes.db.
	CrashDB bool `json:"crash_db" yaml:"crash_db"`
}

func (cfg *Config) ExecTimeout() time.Duration {
	return time.Duration(cfg.Timeout) * time.Millisecond
}

func (cfg *Config) SavePeriod() time.Duration {
	return time.Duration(cfg.SaveInterval) * time.Second
}
