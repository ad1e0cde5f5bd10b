// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanned(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*"))
	if err != nil || len(files) == 0 {
		t.Fatalf("failed to read input files: %v", err)
	}
	for _, file := range files {
		t.Run(file, func(t *testing.T) {
			cfg, err := LoadFile(file)
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(cfg.Workdir))
			assert.True(t, filepath.IsAbs(cfg.Grammar))
			assert.Equal(t, DefaultBitmapSize, cfg.BitmapSize)
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("testdata", "nofeedback.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.NoFeedback)
	assert.False(t, cfg.CrashDB)
	assert.Equal(t, 1, cfg.DetCycles)
	assert.Equal(t, 100, cfg.GenerateInputs)
	assert.Equal(t, "1s", cfg.ExecTimeout().String())
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *Config)
		err    string
	}{
		{"ok", func(cfg *Config) {}, ""},
		{"no target", func(cfg *Config) { cfg.Target = "" }, "config param target is empty"},
		{"missing target", func(cfg *Config) { cfg.Target = "/nonexistent/binary" }, "bad config param target"},
		{"no workdir", func(cfg *Config) { cfg.Workdir = "" }, "config param workdir is empty"},
		{"no grammar", func(cfg *Config) { cfg.Grammar = "" }, "config param grammar is empty"},
		{"zero threads", func(cfg *Config) { cfg.Threads = 0 }, "bad config param threads"},
		{"many threads", func(cfg *Config) { cfg.Threads = MaxThreads + 1 }, "bad config param threads"},
		{"max threads", func(cfg *Config) { cfg.Threads = MaxThreads }, ""},
		{"tree size", func(cfg *Config) { cfg.MaxTreeSize = 0 }, "max_tree_size"},
		{"bitmap", func(cfg *Config) { cfg.BitmapSize = 1000 }, "bitmap_size"},
		{"interval", func(cfg *Config) {
			cfg.SaveState = true
			cfg.SaveInterval = 0
		}, "save_interval"},
		{"resume", func(cfg *Config) { cfg.Resume = true }, "resume is set"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := defaultValues()
			cfg.Target = "/bin/sh"
			cfg.Grammar = "grammar.json"
			test.modify(cfg)
			err := Complete(cfg)
			if test.err == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.err)
		})
	}
}

func TestUnknownField(t *testing.T) {
	_, err := LoadData([]byte(`{"target": "/bin/sh", "grammar": "g.json", "procs": 2}`))
	assert.Error(t, err)
}
