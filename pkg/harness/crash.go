// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/forkserver"
	"github.com/maruel/panicparse/stack"
)

var (
	sanitizerRe = regexp.MustCompile(`==[0-9]+==\s*ERROR: ([A-Za-z]*Sanitizer): ([A-Za-z0-9_-]+)`)
	ubsanRe     = regexp.MustCompile(`runtime error: ([^\n]+)`)
	goPanicRe   = regexp.MustCompile(`(?m)^(panic|fatal error): ([^\n]+)`)
)

// crashTitle extracts a one-line description of a sanitizer report or a Go panic from the target stderr.
// It returns an empty string if the output does not contain a report.
func crashTitle(output []byte) string {
	if m := sanitizerRe.FindSubmatch(output); m != nil {
		return fmt.Sprintf("%s: %s", m[1], m[2])
	}
	if m := goPanicRe.FindSubmatch(output); m != nil {
		title := fmt.Sprintf("%s: %s", m[1], bytes.TrimSpace(m[2]))
		if frame := panicFrame(output); frame != "" {
			title += " in " + frame
		}
		return title
	}
	if m := ubsanRe.FindSubmatch(output); m != nil {
		return "UndefinedBehaviorSanitizer: " + string(bytes.TrimSpace(m[1]))
	}
	return ""
}

// panicFrame returns the first non-runtime function of the panicking goroutine.
func panicFrame(output []byte) string {
	ctx, err := stack.ParseDump(bytes.NewReader(output), io.Discard, false)
	if err != nil || ctx == nil {
		return ""
	}
	for _, gr := range ctx.Goroutines {
		if !gr.First {
			continue
		}
		for _, call := range gr.Stack.Calls {
			name := call.Func.PkgDotName()
			if name != "" && !strings.HasPrefix(name, "runtime.") {
				return name
			}
		}
	}
	return ""
}

// classify decides if the run is a crash and of what kind.
// Runs that exited with a non-zero code are crashes only if they printed a report.
func classify(res *forkserver.Result) (kind campaign.CrashKind, title string, crashed bool) {
	switch res.Reason.Kind {
	case forkserver.ExitTimeout:
		return campaign.CrashTimeout, "timeout", true
	case forkserver.ExitSignaled:
		if title := crashTitle(res.Stderr); title != "" {
			return campaign.CrashSanitizer, title, true
		}
		return campaign.CrashSignal, fmt.Sprintf("signal %v", int(res.Reason.Signal)), true
	case forkserver.ExitCode:
		if title := crashTitle(res.Stderr); title != "" {
			return campaign.CrashSanitizer, title, true
		}
	}
	return 0, "", false
}
