// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !linux

package forkserver

import (
	"fmt"
	"runtime"
)

type Forkserver struct{}

func New(opts Options) (*Forkserver, error) {
	return nil, fmt.Errorf("forkserver is not supported on %v", runtime.GOOS)
}

func (fs *Forkserver) Run(data []byte) (*Result, error) {
	return nil, fmt.Errorf("forkserver is not supported on %v", runtime.GOOS)
}

func (fs *Forkserver) Close() error {
	return nil
}
