// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package forkserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	trace := []byte{0, 1, 2, 3, 4, 7, 8, 15, 16, 31, 32, 127, 128, 255}
	Classify(trace)
	assert.Equal(t, []byte{0, 1, 2, 4, 8, 8, 16, 16, 32, 32, 64, 64, 128, 128}, trace)
}

func TestNewBits(t *testing.T) {
	seen := make([]byte, 8)
	trace := []byte{0, 1, 0, 2, 0, 0, 0, 0}
	assert.Equal(t, []int{1, 3}, NewBits(seen, trace))
	Merge(seen, trace)
	assert.Nil(t, NewBits(seen, trace))
	// Same edge, different bucket.
	trace[1] = 4
	assert.Equal(t, []int{1}, NewBits(seen, trace))
	assert.Equal(t, []int{1, 3}, NonZero(trace))
	assert.True(t, Covers(trace, []int{1, 3}))
	assert.False(t, Covers(trace, []int{1, 2}))
	assert.False(t, Covers(trace, []int{100}))
}

func TestSubstituteInput(t *testing.T) {
	args, found := substituteInput([]string{"-f", "@@", "x"}, "/tmp/in")
	assert.True(t, found)
	assert.Equal(t, []string{"-f", "/tmp/in", "x"}, args)
	_, found = substituteInput([]string{"-f"}, "/tmp/in")
	assert.False(t, found)
}
