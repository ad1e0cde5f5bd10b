// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzconfig

import (
	"fmt"

	"github.com/google/gramfuzz/pkg/config"
	"github.com/google/gramfuzz/pkg/osutil"
)

const (
	MaxThreads = 256

	DefaultBitmapSize = 1 << 16
)

func LoadData(data []byte) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadData(data, cfg); err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFile(filename string) (*Config, error) {
	cfg, err := LoadPartialFile(filename)
	if err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPartialFile loads the config without validation,
// callers may override fields (e.g. the grammar path) before calling Complete.
func LoadPartialFile(filename string) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadFile(filename, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultValues() *Config {
	return &Config{
		Workdir:         "/tmp/",
		Threads:         1,
		DetCycles:       1,
		GenerateInputs:  100,
		SaveInterval:    60,
		MaxTreeSize:     1000,
		Timeout:         1000,
		BitmapSize:      DefaultBitmapSize,
		CrashDB:         true,
		ThreadStackSize: 8 << 20,
	}
}

func Complete(cfg *Config) error {
	if cfg.Target == "" {
		return fmt.Errorf("config param target is empty")
	}
	cfg.Target = osutil.Abs(cfg.Target)
	if err := osutil.IsAccessible(cfg.Target); err != nil {
		return fmt.Errorf("bad config param target: %w", err)
	}
	if cfg.Workdir == "" {
		return fmt.Errorf("config param workdir is empty")
	}
	cfg.Workdir = osutil.Abs(cfg.Workdir)
	if cfg.Grammar == "" {
		return fmt.Errorf("config param grammar is empty")
	}
	cfg.Grammar = osutil.Abs(cfg.Grammar)
	if cfg.Threads < 1 || cfg.Threads > MaxThreads {
		return fmt.Errorf("bad config param threads: '%v', want [1, %v]", cfg.Threads, MaxThreads)
	}
	if cfg.ThreadStackSize < 0 || cfg.SaveThreadStackSize < 0 {
		return fmt.Errorf("stack sizes can't be negative")
	}
	if cfg.DetCycles < 0 {
		return fmt.Errorf("bad config param det_cycles: '%v'", cfg.DetCycles)
	}
	if cfg.GenerateInputs < 1 {
		return fmt.Errorf("bad config param generate_inputs: '%v', want >= 1", cfg.GenerateInputs)
	}
	if cfg.MaxTreeSize < 1 {
		return fmt.Errorf("bad config param max_tree_size: '%v', want >= 1", cfg.MaxTreeSize)
	}
	if cfg.Timeout < 1 {
		return fmt.Errorf("bad config param timeout: '%v', want >= 1", cfg.Timeout)
	}
	if cfg.BitmapSize < 1 || cfg.BitmapSize&(cfg.BitmapSize-1) != 0 {
		return fmt.Errorf("bad config param bitmap_size: '%v', want power of 2", cfg.BitmapSize)
	}
	if cfg.SaveState && cfg.SaveInterval < 1 {
		return fmt.Errorf("save_state is set, but save_interval is '%v'", cfg.SaveInterval)
	}
	if cfg.Resume && !cfg.SaveState {
		return fmt.Errorf("resume is set, but save_state is not")
	}
	return nil
}
