// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package forkserver runs AFL-instrumented targets through the AFL forkserver protocol.
// The coverage map is a SysV shared memory segment exported in __AFL_SHM_ID,
// the forkserver reads commands from fd 198 and writes replies to fd 199.
package forkserver

import (
	"fmt"
	"syscall"
	"time"
)

const (
	ctlFd = 198
	stFd  = 199

	shmEnv = "__AFL_SHM_ID"

	// InputArg in target arguments is replaced with the input file path.
	InputArg = "@@"

	maxStderr = 64 << 10

	handshakeTimeout = 10 * time.Second
	// Slack for the forkserver to report a status after the child was killed.
	statusSlack = 5 * time.Second
)

type Options struct {
	Bin        string
	Args       []string
	Env        []string
	Workdir    string
	Timeout    time.Duration
	BitmapSize int
}

type ExitKind int

const (
	ExitNormal ExitKind = iota
	ExitTimeout
	ExitSignaled
	ExitCode
)

type ExitReason struct {
	Kind   ExitKind
	Signal syscall.Signal
	Code   int
}

func (r ExitReason) String() string {
	switch r.Kind {
	case ExitNormal:
		return "normal"
	case ExitTimeout:
		return "timeout"
	case ExitSignaled:
		return fmt.Sprintf("signaled_%d", int(r.Signal))
	case ExitCode:
		return fmt.Sprintf("exited_%d", r.Code)
	default:
		return fmt.Sprintf("ExitKind(%d)", int(r.Kind))
	}
}

// Crashed says if the run ended abnormally (timeouts are not crashes).
func (r ExitReason) Crashed() bool {
	return r.Kind == ExitSignaled || r.Kind == ExitCode
}

type Result struct {
	Reason ExitReason
	// Trace is a classified copy of the coverage map.
	Trace    []byte
	Stderr   []byte
	Duration time.Duration
}

func exitReason(status syscall.WaitStatus, timedOut bool) ExitReason {
	switch {
	case timedOut:
		return ExitReason{Kind: ExitTimeout}
	case status.Signaled():
		return ExitReason{Kind: ExitSignaled, Signal: status.Signal()}
	case status.Exited() && status.ExitStatus() != 0:
		return ExitReason{Kind: ExitCode, Code: status.ExitStatus()}
	default:
		return ExitReason{Kind: ExitNormal}
	}
}

func substituteInput(args []string, input string) ([]string, bool) {
	res := make([]string, len(args))
	found := false
	for i, arg := range args {
		if arg == InputArg {
			arg = input
			found = true
		}
		res[i] = arg
	}
	return res, found
}
