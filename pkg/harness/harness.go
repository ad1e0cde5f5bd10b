// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package harness executes grammar trees against the target and implements
// the per-input mutation stages on top of a single forkserver.
package harness

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/chunkstore"
	"github.com/google/gramfuzz/pkg/crashdb"
	"github.com/google/gramfuzz/pkg/forkserver"
	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/stat"
)

type Options struct {
	Bin        string
	Args       []string
	Dump       bool
	Workdir    string
	Timeout    time.Duration
	BitmapSize int
	// CrashDB is optional.
	CrashDB *crashdb.DB
}

// Executor runs a single input, forkserver.Forkserver is the production implementation.
type Executor interface {
	Run(data []byte) (*forkserver.Result, error)
	Close() error
}

// Error means that the target harness is dead and must be recreated.
type Error struct {
	Err error
}

func (err *Error) Error() string {
	return fmt.Sprintf("harness failure: %v", err.Err)
}

func (err *Error) Unwrap() error {
	return err.Err
}

func IsHarnessError(err error) bool {
	var herr *Error
	return errors.As(err, &herr)
}

const (
	SignaledDir = "signaled"
	QueueDir    = "queue"
	TimeoutDir  = "timeout"
	DumpDir     = "dumped_inputs"
)

// OutputDir returns the path of the named directory under workdir/outputs.
func OutputDir(workdir, name string) string {
	return filepath.Join(workdir, "outputs", name)
}

// OutputDirs lists directories that must exist before harnesses are created.
func OutputDirs(workdir string, dump bool) []string {
	dirs := []string{
		OutputDir(workdir, SignaledDir),
		OutputDir(workdir, QueueDir),
		OutputDir(workdir, TimeoutDir),
	}
	if dump {
		dirs = append(dirs, OutputDir(workdir, DumpDir))
	}
	return dirs
}

var (
	harnessSeq   atomic.Int64
	statExecTime = stat.New("exec time", "Target execution time (us)", stat.Distribution{}, stat.Simple,
		stat.Prometheus("gramfuzz_exec_time_us"))
)

// ExecTimeQuantile returns the q-th quantile of target execution times in microseconds.
func ExecTimeQuantile(q float64) float64 {
	return statExecTime.Quantile(q)
}

type Harness struct {
	id     int64
	opts   Options
	exec   Executor
	shared *campaign.State
	chunks *chunkstore.Wrapper
	ctx    *grammar.Context
	rnd    *rand.Rand
	local  campaign.Counters
	start  time.Time
	dumped int
}

// New starts a forkserver for the target and returns a harness that reports into shared.
func New(opts Options, shared *campaign.State, chunks *chunkstore.Wrapper, ctx *grammar.Context) (*Harness, error) {
	fs, err := forkserver.New(forkserver.Options{
		Bin:        opts.Bin,
		Args:       opts.Args,
		Workdir:    opts.Workdir,
		Timeout:    opts.Timeout,
		BitmapSize: opts.BitmapSize,
	})
	if err != nil {
		return nil, &Error{Err: err}
	}
	return newHarness(fs, opts, shared, chunks, ctx), nil
}

func newHarness(exec Executor, opts Options, shared *campaign.State, chunks *chunkstore.Wrapper,
	ctx *grammar.Context) *Harness {
	id := harnessSeq.Add(1)
	return &Harness{
		id:     id,
		opts:   opts,
		exec:   exec,
		shared: shared,
		chunks: chunks,
		ctx:    ctx,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano() + id)),
		start:  time.Now(),
	}
}

// Counters returns local telemetry of the harness, the worker drains it into the campaign state.
func (h *Harness) Counters() *campaign.Counters {
	return &h.local
}

func (h *Harness) Close() error {
	return h.exec.Close()
}

func (h *Harness) noteExec(res *forkserver.Result) {
	h.local.Execs++
	elapsed := time.Since(h.start)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	h.local.Throughput = int64(float64(h.local.Execs) / elapsed.Seconds())
	statExecTime.Add(int(res.Duration / time.Microsecond))
}
