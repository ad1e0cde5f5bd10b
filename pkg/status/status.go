// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package status renders the live campaign dashboard.
package status

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/chunkstore"
	"github.com/google/gramfuzz/pkg/log"
	"github.com/mattn/go-isatty"
)

const (
	clearScreen = "\x1b[2J"
	cursorHome  = "\x1b[H"
	separator   = "------------------------------------------------------"
	banner      = "-----------------------No-Feedback mode!---------------------"
)

type Config struct {
	NoFeedback bool
	Output     io.Writer
	// Period defaults to 1 second.
	Period time.Duration
	// StarveTimeout is how long the reporter waits for a chunk store writer, defaults to 30 seconds.
	StarveTimeout time.Duration
	// LogLines is the number of recent log lines shown below the dashboard.
	LogLines int
	// Fatalf is called when the reporter starves, defaults to log.Fatalf that also prints to stderr.
	Fatalf func(msg string, args ...any)
}

type Reporter struct {
	cfg    Config
	shared *campaign.State
	chunks *chunkstore.Wrapper
	tty    bool
	label  lipgloss.Style
	value  lipgloss.Style
	alert  lipgloss.Style
	now    func() time.Time
}

func NewReporter(cfg Config, shared *campaign.State, chunks *chunkstore.Wrapper) *Reporter {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.StarveTimeout <= 0 {
		cfg.StarveTimeout = 30 * time.Second
	}
	if cfg.Fatalf == nil {
		cfg.Fatalf = fatalTo(os.Stderr, log.Fatalf)
	}
	tty := false
	if f, ok := cfg.Output.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	renderer := lipgloss.NewRenderer(cfg.Output)
	return &Reporter{
		cfg:    cfg,
		shared: shared,
		chunks: chunks,
		tty:    tty,
		label:  renderer.NewStyle().Bold(true),
		value:  renderer.NewStyle().Foreground(lipgloss.Color("#2CD7C7")),
		alert:  renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#E74C3C")),
		now:    time.Now,
	}
}

// Loop redraws the dashboard every period until ctx is cancelled.
func (r *Reporter) Loop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Period)
	defer ticker.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-ticker.C:
	}
	if r.tty {
		fmt.Fprint(r.cfg.Output, clearScreen)
	}
	for {
		frame, err := r.Render(time.Now())
		if err != nil {
			r.cfg.Fatalf("%v", err)
			return err
		}
		if r.tty {
			frame = cursorHome + frame
		}
		fmt.Fprint(r.cfg.Output, frame)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Render formats the dashboard. It fails if a chunk store writer stays busy for StarveTimeout.
func (r *Reporter) Render(now time.Time) (string, error) {
	snap := r.shared.Snapshot()
	trees := 0
	if !r.cfg.NoFeedback {
		if err := r.waitChunks(); err != nil {
			return "", err
		}
		r.chunks.Read(func(cs *chunkstore.ChunkStore) {
			trees = cs.Trees()
		})
	}
	buf := new(strings.Builder)
	line := func(width int, label string, value any) {
		fmt.Fprintf(buf, "%v%v\n", r.label.Render(fmt.Sprintf("%-*v", width, label)), r.value.Render(fmt.Sprint(value)))
	}
	if r.cfg.NoFeedback {
		fmt.Fprintln(buf, r.alert.Render(banner))
	}
	fmt.Fprintln(buf, r.label.Render("Run Time: ")+r.value.Render(formatElapsed(now.Sub(r.shared.Start))))
	line(26, "Execution Count:", snap.ExecCount)
	line(26, "Executions per Sec:", snap.Throughput)
	if !r.cfg.NoFeedback {
		line(26, "Left in queue:", snap.QueueLen)
		line(26, "Trees in Chunkstore:", trees)
	}
	fmt.Fprintln(buf, separator)
	line(26, "Last ASAN crash:", formatCrash(snap.Crashes[campaign.CrashSanitizer]))
	line(26, "Last SIG crash:", formatCrash(snap.Crashes[campaign.CrashSignal]))
	line(26, "Last Timeout:", formatCrash(snap.Crashes[campaign.CrashTimeout]))
	line(26, "Total ASAN crashes:", snap.Crashes[campaign.CrashSanitizer].Total)
	line(26, "Total SIG crashes:", snap.Crashes[campaign.CrashSignal].Total)
	line(26, "Total Timeouts:", snap.Crashes[campaign.CrashTimeout].Total)
	fmt.Fprintln(buf, separator)
	for s := campaign.Strategy(0); s < campaign.NumStrategies; s++ {
		if r.cfg.NoFeedback && s != campaign.StrategyGen {
			continue
		}
		line(33, fmt.Sprintf("New paths found by %v:", s.Title()), snap.Found[s])
	}
	fmt.Fprintln(buf, separator)
	line(23, "Last time state saved:", snap.StateSaved)
	fmt.Fprintln(buf, separator)
	if r.cfg.LogLines > 0 {
		for _, l := range log.CachedLogTail(r.cfg.LogLines) {
			fmt.Fprintln(buf, l)
		}
	}
	return buf.String(), nil
}

func (r *Reporter) waitChunks() error {
	const poll = time.Millisecond
	start := r.now()
	for r.chunks.Busy() {
		if r.now().Sub(start) >= r.cfg.StarveTimeout {
			return fmt.Errorf("status reporter starved: chunk store is busy for %v", r.cfg.StarveTimeout)
		}
		time.Sleep(poll)
	}
	return nil
}

// fatalTo makes fatal errors visible when the log is redirected to a file.
func fatalTo(w io.Writer, fatalf func(msg string, args ...any)) func(msg string, args ...any) {
	return func(msg string, args ...any) {
		fmt.Fprintf(w, msg+"\n", args...)
		fatalf(msg, args...)
	}
}

func formatElapsed(d time.Duration) string {
	secs := int64(d / time.Second)
	minutes := secs / 60
	hours := minutes / 60
	days := hours / 24
	return fmt.Sprintf("%v days, %v hours, %v minutes, %v seconds", days, hours%24, minutes%60, secs%60)
}

func formatCrash(c campaign.CrashStats) string {
	if c.Last.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%v %v", c.Last.Format(campaign.TimeFormat), c.Title)
}
