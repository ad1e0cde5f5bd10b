// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/harness"
	"github.com/google/gramfuzz/pkg/queue"
	"github.com/google/gramfuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDead = &harness.Error{Err: errors.New("target died")}

// fakeHarness pretends to run one execution per operation.
// Windowed operations are done once the window reaches treeLen.
type fakeHarness struct {
	calls   []string
	windows [][2]int
	treeLen int
	// failAt makes the n-th operation (1-based) fail with failErr.
	failAt  int
	failErr error
	// cancel is called once cancelAt operations were made.
	cancelAt int
	cancel   func()
	closed   bool
	local    campaign.Counters
}

func (h *fakeHarness) op(name string) error {
	h.calls = append(h.calls, name)
	if h.cancel != nil && len(h.calls) >= h.cancelAt {
		h.cancel()
	}
	if h.failAt != 0 && len(h.calls) == h.failAt {
		if h.failErr != nil {
			return h.failErr
		}
		return errDead
	}
	h.local.Execs++
	h.local.Throughput = int64(h.local.Execs)
	return nil
}

func (h *fakeHarness) windowed(name string, start, end int) (bool, error) {
	h.windows = append(h.windows, [2]int{start, end})
	if err := h.op(name); err != nil {
		return false, err
	}
	return end >= h.treeLen, nil
}

func (h *fakeHarness) Minimize(item *queue.Item, start, end int) (bool, error) {
	return h.windowed("min", start, end)
}

func (h *fakeHarness) DeterministicTreeMutation(item *queue.Item, start, end int) (bool, error) {
	return h.windowed("det", start, end)
}

func (h *fakeHarness) DeterministicAFLMutation(item *queue.Item, start, end int) (bool, error) {
	return h.windowed("det_afl", start, end)
}

func (h *fakeHarness) Splice(item *queue.Item) error {
	return h.op("splice")
}

func (h *fakeHarness) Havoc(item *queue.Item) error {
	return h.op("havoc")
}

func (h *fakeHarness) HavocRecursion(item *queue.Item) error {
	return h.op("havoc_rec")
}

func (h *fakeHarness) GenerateRandom(nt string) error {
	if err := h.op("gen"); err != nil {
		return err
	}
	h.local.Found[campaign.StrategyGen]++
	return nil
}

func (h *fakeHarness) Counters() *campaign.Counters {
	return &h.local
}

func (h *fakeHarness) Close() error {
	h.closed = true
	return nil
}

func TestProcessInput(t *testing.T) {
	const detCycles = 2
	tests := []struct {
		stage   queue.Stage
		treeLen int
		next    queue.Stage
		calls   []string
		window  [2]int
	}{
		{queue.Init(0), 1000, queue.Init(200), []string{"min"}, [2]int{0, 200}},
		{queue.Init(200), 300, queue.Det(0, 0), []string{"min"}, [2]int{200, 400}},
		{queue.Det(0, 0), 10, queue.Det(0, 1), []string{"det", "splice", "havoc", "havoc_rec"}, [2]int{0, 1}},
		{queue.Det(1, 9), 10, queue.Det(2, 0), []string{"det", "splice", "havoc", "havoc_rec"}, [2]int{9, 10}},
		{queue.Det(detCycles, 0), 1, queue.DetAFL(0), []string{"det", "splice", "havoc", "havoc_rec"}, [2]int{0, 1}},
		{queue.DetAFL(3), 10, queue.DetAFL(4), []string{"det_afl", "splice", "havoc", "havoc_rec"}, [2]int{3, 4}},
		{queue.DetAFL(9), 10, queue.Random(), []string{"det_afl", "splice", "havoc", "havoc_rec"}, [2]int{9, 10}},
		{queue.Random(), 10, queue.Random(), []string{"splice", "havoc", "havoc_rec"}, [2]int{}},
	}
	for _, test := range tests {
		t.Run(test.stage.String(), func(t *testing.T) {
			h := &fakeHarness{treeLen: test.treeLen}
			item := &queue.Item{Stage: test.stage}
			require.NoError(t, ProcessInput(h, item, detCycles))
			assert.Equal(t, test.next, item.Stage)
			assert.Equal(t, test.calls, h.calls)
			if test.stage.Kind != queue.StageRandom {
				assert.Equal(t, [][2]int{test.window}, h.windows)
			}
		})
	}
}

func TestProcessInputFailure(t *testing.T) {
	for failAt := 1; failAt <= 4; failAt++ {
		h := &fakeHarness{treeLen: 10, failAt: failAt}
		item := &queue.Item{Stage: queue.Det(0, 0)}
		err := ProcessInput(h, item, 0)
		assert.True(t, harness.IsHarnessError(err))
		// A failed primary operation keeps the stage, a failed splice/havoc/havoc-recursion does not.
		want := queue.Det(0, 1)
		if failAt == 1 {
			want = queue.Det(0, 0)
		}
		assert.Equal(t, want, item.Stage, "failAt=%v", failAt)
		// Nothing runs after the failed operation.
		assert.Len(t, h.calls, failAt)
	}
}

func TestDetCycles(t *testing.T) {
	for detCycles := 0; detCycles < 4; detCycles++ {
		h := &fakeHarness{treeLen: 3}
		item := &queue.Item{Stage: queue.Det(0, 0)}
		fullCycles := 0
		for item.Stage.Kind == queue.StageDet {
			prev := item.Stage
			require.NoError(t, ProcessInput(h, item, detCycles))
			if prev.Cursor == h.treeLen-1 {
				fullCycles++
			}
		}
		assert.Equal(t, queue.DetAFL(0), item.Stage)
		assert.Equal(t, detCycles+1, fullCycles)
		assert.Len(t, h.windows, (detCycles+1)*h.treeLen)
	}
}

func TestStageMonotonic(t *testing.T) {
	rnd := rand.New(testutil.RandSource(t))
	for i := 0; i < testutil.IterCount()/10; i++ {
		h := &fakeHarness{treeLen: 1 + rnd.Intn(500)}
		item := &queue.Item{Stage: queue.Init(0)}
		detCycles := rnd.Intn(3)
		for step := 0; item.Stage.Kind != queue.StageRandom; step++ {
			require.Less(t, step, 10000)
			prev := item.Stage
			require.NoError(t, ProcessInput(h, item, detCycles))
			require.True(t, prev.Less(item.Stage), "%v -> %v", prev, item.Stage)
		}
	}
}

func TestSupplementaryEveryStep(t *testing.T) {
	h := &fakeHarness{treeLen: 2}
	item := &queue.Item{Stage: queue.Init(0)}
	steps := 0
	for item.Stage.Kind != queue.StageRandom || steps < 20 {
		calls := len(h.calls)
		supplementary := item.Stage.Supplementary()
		require.NoError(t, ProcessInput(h, item, 1))
		count := map[string]int{}
		for _, call := range h.calls[calls:] {
			count[call]++
		}
		if supplementary {
			assert.Equal(t, 1, count["splice"])
			assert.Equal(t, 1, count["havoc"])
			assert.Equal(t, 1, count["havoc_rec"])
		} else {
			assert.Equal(t, map[string]int{"min": 1}, count)
		}
		steps++
	}
}
