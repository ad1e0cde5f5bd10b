// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiling(t *testing.T) {
	dir := t.TempDir()
	cpuprof := filepath.Join(dir, "cpu.prof")
	memprof := filepath.Join(dir, "mem.prof")
	stop, err := startProfiling(cpuprof, memprof)
	require.NoError(t, err)
	require.NoError(t, stop())
	for _, file := range []string{cpuprof, memprof} {
		info, err := os.Stat(file)
		require.NoError(t, err)
		assert.NotZero(t, info.Size(), file)
	}

	stop, err = startProfiling("", "")
	require.NoError(t, err)
	assert.NoError(t, stop())

	_, err = startProfiling(filepath.Join(dir, "missing", "cpu.prof"), "")
	assert.Error(t, err)
}
