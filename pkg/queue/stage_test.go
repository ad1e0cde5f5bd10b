// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package queue

import (
	"math/rand"
	"testing"

	"github.com/google/gramfuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"
)

func TestStageNext(t *testing.T) {
	const detCycles = 2
	tests := []struct {
		stage Stage
		done  bool
		next  Stage
	}{
		{Init(0), false, Init(200)},
		{Init(200), true, Det(0, 0)},
		{Det(0, 5), false, Det(0, 6)},
		{Det(0, 5), true, Det(1, 0)},
		{Det(1, 0), true, Det(2, 0)},
		{Det(detCycles, 0), true, DetAFL(0)},
		{Det(detCycles, 3), false, Det(detCycles, 4)},
		{DetAFL(0), false, DetAFL(1)},
		{DetAFL(7), true, Random()},
		{Random(), false, Random()},
		{Random(), true, Random()},
	}
	for _, test := range tests {
		t.Run(test.stage.String(), func(t *testing.T) {
			assert.Equal(t, test.next, test.stage.Next(test.done, detCycles))
		})
	}
}

func TestStageMonotonic(t *testing.T) {
	rnd := rand.New(testutil.RandSource(t))
	for iter := 0; iter < testutil.IterCount(); iter++ {
		detCycles := rnd.Intn(4)
		stage := Init(0)
		for step := 0; step < 100; step++ {
			next := stage.Next(rnd.Intn(3) == 0, detCycles)
			require.False(t, next.Less(stage), "%v -> %v", stage, next)
			if stage.Kind == StageRandom {
				require.Equal(t, stage, next)
			}
			stage = next
		}
	}
}

func TestDetCycleCount(t *testing.T) {
	for detCycles := 0; detCycles < 5; detCycles++ {
		stage := Det(0, 0)
		cycles := 0
		for stage.Kind == StageDet {
			stage = stage.Next(true, detCycles)
			cycles++
		}
		assert.Equal(t, detCycles+1, cycles)
		assert.Equal(t, DetAFL(0), stage)
	}
}

func TestStageWindow(t *testing.T) {
	start, end := Init(400).Window()
	assert.Equal(t, 400, start)
	assert.Equal(t, 600, end)
	start, end = Det(3, 7).Window()
	assert.Equal(t, 7, start)
	assert.Equal(t, 8, end)
	start, end = DetAFL(2).Window()
	assert.Equal(t, 2, start)
	assert.Equal(t, 3, end)
	assert.False(t, Init(0).Supplementary())
	assert.True(t, Det(0, 0).Supplementary())
	assert.True(t, DetAFL(0).Supplementary())
	assert.True(t, Random().Supplementary())
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "init(200)", Init(200).String())
	assert.Equal(t, "det(1, 2)", Det(1, 2).String())
	assert.Equal(t, "det_afl(3)", DetAFL(3).String())
	assert.Equal(t, "random", Random().String())
	assert.Equal(t, "StageKind(9)", StageKind(9).String())
}

func TestStageJSON(t *testing.T) {
	for _, stage := range []Stage{Init(200), Det(1, 2), DetAFL(3), Random()} {
		data, err := sonnet.Marshal(stage)
		require.NoError(t, err)
		var got Stage
		require.NoError(t, sonnet.Unmarshal(data, &got))
		assert.Equal(t, stage, got)
	}
	data, err := sonnet.Marshal(Det(1, 2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"det","cycle":1,"cursor":2}`, string(data))
	data, err = sonnet.Marshal(Random())
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"random"}`, string(data))
	var s Stage
	assert.Error(t, sonnet.Unmarshal([]byte(`{"kind":"havoc"}`), &s))
	assert.Error(t, sonnet.Unmarshal([]byte(`[]`), &s))
}
