// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/harness"
	"github.com/google/gramfuzz/pkg/log"
	"golang.org/x/time/rate"
)

// HarnessFactory starts a new target harness. restart is set when it replaces a dead one.
type HarnessFactory func(restart bool) (Harness, error)

type Config struct {
	NoFeedback bool
	DetCycles  int
	// GenerateInputs is the number of fresh trees generated when the queue is empty.
	GenerateInputs int
	// RestartInterval and RestartBurst pace target restarts.
	RestartInterval time.Duration
	RestartBurst    int
	// MaxRestartAttempts is the number of consecutive failed restarts after which the worker gives up.
	MaxRestartAttempts int
}

func (cfg *Config) setDefaults() {
	if cfg.GenerateInputs <= 0 {
		cfg.GenerateInputs = 1
	}
	if cfg.RestartInterval <= 0 {
		cfg.RestartInterval = 100 * time.Millisecond
	}
	if cfg.RestartBurst <= 0 {
		cfg.RestartBurst = 10
	}
	if cfg.MaxRestartAttempts <= 0 {
		cfg.MaxRestartAttempts = 100
	}
}

type Worker struct {
	id         int
	cfg        Config
	shared     *campaign.State
	newHarness HarnessFactory
	harness    Harness
	base       campaign.Baseline
	limiter    *rate.Limiter
	restarts   int
}

func NewWorker(id int, cfg Config, shared *campaign.State, newHarness HarnessFactory) *Worker {
	cfg.setDefaults()
	return &Worker{
		id:         id,
		cfg:        cfg,
		shared:     shared,
		newHarness: newHarness,
		limiter:    rate.NewLimiter(rate.Every(cfg.RestartInterval), cfg.RestartBurst),
	}
}

// Restarts returns the number of times the worker replaced its harness.
func (w *Worker) Restarts() int {
	return w.restarts
}

// Loop runs until ctx is cancelled or the target cannot be (re)started.
func (w *Worker) Loop(ctx context.Context) error {
	h, err := w.newHarness(false)
	if err != nil {
		return fmt.Errorf("worker %v: failed to start the target: %w", w.id, err)
	}
	w.harness = h
	defer func() {
		if w.harness != nil {
			w.harness.Close()
		}
	}()
	log.Logf(1, "worker %v started", w.id)
	for ctx.Err() == nil {
		if w.cfg.NoFeedback {
			err = w.generate(ctx)
		} else {
			err = w.step(ctx)
		}
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				break
			}
			return fmt.Errorf("worker %v: %w", w.id, err)
		}
	}
	log.Logf(1, "worker %v stopped", w.id)
	return nil
}

func (w *Worker) step(ctx context.Context) error {
	if item := w.shared.Pop(); item != nil {
		if err := ProcessInput(w.harness, item, w.cfg.DetCycles); err != nil {
			if err := w.recover(ctx, err); err != nil {
				w.shared.Finished(item)
				return err
			}
		}
		w.shared.Finished(item)
	} else {
		for i := 0; i < w.cfg.GenerateInputs && ctx.Err() == nil; i++ {
			if err := w.harness.GenerateRandom(grammar.StartSymbol); err != nil {
				if err := w.recover(ctx, err); err != nil {
					return err
				}
			}
		}
		w.shared.NewRound()
	}
	w.drain(false)
	return nil
}

// generate is the loop body in no-feedback mode.
func (w *Worker) generate(ctx context.Context) error {
	if err := w.harness.GenerateRandom(grammar.StartSymbol); err != nil {
		if err := w.recover(ctx, err); err != nil {
			return err
		}
	}
	w.drain(true)
	return nil
}

func (w *Worker) drain(genOnly bool) {
	w.shared.Drain(w.harness.Counters(), &w.base, genOnly)
}

func (w *Worker) recover(ctx context.Context, err error) error {
	if !harness.IsHarnessError(err) {
		return err
	}
	return w.restart(ctx, err)
}

// restart replaces the dead harness. What the old harness collected since the last drain
// is drained first, then the baseline is reset so the next drain counts only the new harness.
func (w *Worker) restart(ctx context.Context, cause error) error {
	log.Logf(0, "worker %v: %v, restarting the target", w.id, cause)
	w.drain(w.cfg.NoFeedback)
	w.harness.Close()
	w.harness = nil
	w.restarts++
	for attempt := 1; ; attempt++ {
		if err := w.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		h, err := w.newHarness(true)
		if err == nil {
			w.harness = h
			w.base.Reset()
			return nil
		}
		if attempt >= w.cfg.MaxRestartAttempts {
			return fmt.Errorf("failed to restart the target after %v attempts: %w", attempt, err)
		}
		log.Logf(0, "worker %v: failed to restart the target: %v", w.id, err)
	}
}
