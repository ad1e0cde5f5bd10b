// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/checkpoint"
	"github.com/google/gramfuzz/pkg/chunkstore"
	"github.com/google/gramfuzz/pkg/crashdb"
	"github.com/google/gramfuzz/pkg/fuzzconfig"
	"github.com/google/gramfuzz/pkg/fuzzer"
	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/harness"
	"github.com/google/gramfuzz/pkg/log"
	"github.com/google/gramfuzz/pkg/osutil"
	"github.com/google/gramfuzz/pkg/queue"
	"github.com/google/gramfuzz/pkg/stat"
	"github.com/google/gramfuzz/pkg/status"
	"golang.org/x/sync/errgroup"
)

const (
	logFile     = "gramfuzz.log"
	crashDBFile = "crashes.db"
	statsPeriod = time.Minute
)

func run(parent context.Context, f flags, grammarFile string) error {
	fmt.Printf("%v Starting Fuzzing...\n", time.Now().Format(campaign.TimeFormat))
	cfg, err := fuzzconfig.LoadPartialFile(f.config)
	if err != nil {
		return err
	}
	if grammarFile != "" {
		cfg.Grammar = grammarFile
	}
	if err := fuzzconfig.Complete(cfg); err != nil {
		return err
	}

	gctx, grammarHash, err := loadGrammar(cfg.Grammar, f.dumb, cfg.MaxTreeSize)
	if err != nil {
		return err
	}
	for _, dir := range harness.OutputDirs(cfg.Workdir, cfg.DumpMode) {
		if err := osutil.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create %v: %w", dir, err)
		}
	}
	logOutput, err := os.OpenFile(filepath.Join(cfg.Workdir, logFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer logOutput.Close()
	// The dashboard owns the terminal, its tail shows the cached log.
	log.EnableLogCaching(1000, 1<<20)
	log.SetOutput(logOutput)
	defer log.SetOutput(os.Stderr)
	log.Logf(0, "loaded grammar %v (hash %v)", cfg.Grammar, grammarHash)

	var crashes *crashdb.DB
	if cfg.CrashDB {
		crashes, err = crashdb.Open(filepath.Join(harness.OutputDir(cfg.Workdir, ""), crashDBFile))
		if err != nil {
			return err
		}
		defer crashes.Close()
	}

	shared := campaign.New(queue.New(harness.OutputDir(cfg.Workdir, harness.QueueDir)), cfg.BitmapSize)
	shared.RegisterMetrics()
	chunks := chunkstore.NewWrapper(nil)
	if cfg.Resume {
		if err := resume(cfg.Workdir, gctx, grammarHash, shared, chunks); err != nil {
			return err
		}
	}
	log.Logf(0, "campaign %v: %v workers, target %v", shared.ID, cfg.Threads, cfg.Target)

	ctx, cancel := osutil.HandleInterrupts(parent)
	defer cancel()
	var workers, services []func(context.Context) error
	for id := 0; id < cfg.Threads; id++ {
		factory := harnessFactory(cfg, shared, chunks, gctx.Clone(), crashes)
		worker := fuzzer.NewWorker(id, fuzzer.Config{
			NoFeedback:     cfg.NoFeedback,
			DetCycles:      cfg.DetCycles,
			GenerateInputs: cfg.GenerateInputs,
		}, shared, factory)
		workers = append(workers, worker.Loop)
	}
	reporter := status.NewReporter(status.Config{
		NoFeedback: cfg.NoFeedback,
		LogLines:   10,
	}, shared, chunks)
	services = append(services, reporter.Loop, func(ctx context.Context) error {
		return logStats(ctx, statsPeriod)
	})
	var saver *checkpoint.Saver
	if cfg.SaveState {
		saver = checkpoint.NewSaver(cfg.Workdir, cfg.SavePeriod(), grammarHash, shared, chunks)
		services = append(services, saver.Loop)
	}
	if cfg.HTTP != "" {
		services = append(services, func(ctx context.Context) error {
			return serveHTTP(ctx, cfg.HTTP)
		})
	}
	err = runCampaign(ctx, workers, services, saver)
	snap := shared.Snapshot()
	log.Logf(0, "campaign %v finished: %v executions, %v queued", shared.ID, snap.ExecCount, snap.QueueLen)
	return err
}

// runCampaign runs workers and services until ctx is cancelled or any of them fails.
// Services are stopped only after all workers have returned their items to the queue,
// then the final checkpoint is saved (if saver is not nil).
func runCampaign(ctx context.Context, workers, services []func(context.Context) error,
	saver *checkpoint.Saver) error {
	svcGroup, svcCtx := errgroup.WithContext(ctx)
	svcCtx, stopServices := context.WithCancel(svcCtx)
	defer stopServices()
	for _, fn := range services {
		fn := fn
		svcGroup.Go(func() error {
			return fn(svcCtx)
		})
	}
	workGroup, workCtx := errgroup.WithContext(svcCtx)
	for _, fn := range workers {
		fn := fn
		workGroup.Go(func() error {
			return fn(workCtx)
		})
	}
	err := workGroup.Wait()
	stopServices()
	if svcErr := svcGroup.Wait(); err == nil {
		err = svcErr
	}
	if saver != nil {
		if saveErr := saver.Save(); saveErr != nil {
			err = errors.Join(err, fmt.Errorf("final checkpoint failed: %w", saveErr))
		}
	}
	return err
}

func loadGrammar(filename string, dumb bool, maxTreeSize int) (*grammar.Context, string, error) {
	gctx, err := grammar.LoadFile(filename)
	if err != nil {
		return nil, "", err
	}
	gctx.SetDumb(dumb)
	if err := gctx.Initialize(maxTreeSize); err != nil {
		return nil, "", fmt.Errorf("bad grammar %v: %w", filename, err)
	}
	grammarHash, err := checkpoint.GrammarHash(filename)
	if err != nil {
		return nil, "", err
	}
	return gctx, grammarHash, nil
}

// harnessFactory creates harnesses for a single worker. Restarted harnesses
// run the target without the configured extra arguments.
func harnessFactory(cfg *fuzzconfig.Config, shared *campaign.State, chunks *chunkstore.Wrapper,
	gctx *grammar.Context, crashes *crashdb.DB) fuzzer.HarnessFactory {
	return func(restart bool) (fuzzer.Harness, error) {
		opts := harness.Options{
			Bin:        cfg.Target,
			Args:       cfg.Args,
			Dump:       cfg.DumpMode,
			Workdir:    cfg.Workdir,
			Timeout:    cfg.ExecTimeout(),
			BitmapSize: cfg.BitmapSize,
			CrashDB:    crashes,
		}
		if restart {
			opts.Args = nil
		}
		h, err := harness.New(opts, shared, chunks, gctx)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

func resume(workdir string, gctx *grammar.Context, grammarHash string, shared *campaign.State,
	chunks *chunkstore.Wrapper) error {
	cp, err := checkpoint.Load(workdir, gctx, grammarHash)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		log.Logf(0, "no checkpoint in %v, starting a new campaign", workdir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := cp.Restore(shared, chunks); err != nil {
		return err
	}
	log.Logf(0, "resumed campaign %v saved at %v: %v queued items, %v chunks",
		cp.Meta.CampaignID, cp.Meta.Saved.Format(campaign.TimeFormat), len(cp.Items), len(cp.Chunks))
	return nil
}

// logStats periodically logs console-level metrics, they show up in the dashboard log tail.
func logStats(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		var parts []string
		for _, ui := range stat.Collect(stat.Console) {
			parts = append(parts, fmt.Sprintf("%v: %v", ui.Name, ui.Value))
		}
		parts = append(parts, fmt.Sprintf("exec time p90: %.0fus", harness.ExecTimeQuantile(0.9)))
		log.Logf(0, "%v", strings.Join(parts, ", "))
	}
}
