// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tool contains helpers shared by the gramfuzz binaries.
package tool

import (
	"fmt"
	"os"
	"path/filepath"
)

// Failf prints the message prefixed with the program name and exits with status 1.
func Failf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%v: %v\n", filepath.Base(os.Args[0]), fmt.Sprintf(msg, args...))
	os.Exit(1)
}

func Fail(err error) {
	Failf("%v", err)
}
