// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"
)

const exprGrammar = "../../pkg/grammar/testdata/expr.json"

func defaultOptions() options {
	return options{
		count: 20,
		seed:  1,
		size:  100,
		nt:    grammar.StartSymbol,
	}
}

func TestGenerate(t *testing.T) {
	out := new(bytes.Buffer)
	require.NoError(t, generate(out, exprGrammar, defaultOptions()))
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 20)
	re := regexp.MustCompile(`^[0-9()+ ]+$`)
	for _, line := range lines {
		assert.Regexp(t, re, line)
	}

	// The same seed gives the same inputs.
	again := new(bytes.Buffer)
	require.NoError(t, generate(again, exprGrammar, defaultOptions()))
	assert.Equal(t, out.String(), again.String())
}

func TestGenerateTrees(t *testing.T) {
	opts := defaultOptions()
	opts.count = 5
	opts.tree = true
	out := new(bytes.Buffer)
	require.NoError(t, generate(out, exprGrammar, opts))
	ctx, err := grammar.LoadFile(exprGrammar)
	require.NoError(t, err)
	require.NoError(t, ctx.Initialize(opts.size))
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	for _, line := range lines {
		tree := new(grammar.Tree)
		require.NoError(t, sonnet.Unmarshal([]byte(line), tree))
		assert.NoError(t, tree.Validate(ctx))
	}
}

func TestGenerateOut(t *testing.T) {
	opts := defaultOptions()
	opts.out = filepath.Join(t.TempDir(), "inputs")
	out := new(bytes.Buffer)
	require.NoError(t, generate(out, exprGrammar, opts))
	assert.Empty(t, out.String())
	files, err := os.ReadDir(opts.out)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.LessOrEqual(t, len(files), opts.count)
	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(opts.out, file.Name()))
		require.NoError(t, err)
		assert.Equal(t, hash.String(data), file.Name())
	}
}

func TestGenerateErrors(t *testing.T) {
	out := new(bytes.Buffer)
	assert.Error(t, generate(out, filepath.Join(t.TempDir(), "missing.json"), defaultOptions()))
	opts := defaultOptions()
	opts.nt = "NOPE"
	assert.Error(t, generate(out, exprGrammar, opts))
}
