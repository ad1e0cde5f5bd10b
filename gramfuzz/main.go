// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// gramfuzz is a grammar-based coverage-guided fuzzer.
// It generates inputs from a context-free grammar, runs them against an
// AFL-instrumented target and mutates the trees that reach new coverage.
package main

import (
	"context"
	"errors"

	"github.com/google/gramfuzz/pkg/log"
	"github.com/google/gramfuzz/pkg/tool"
	"github.com/spf13/cobra"
)

type flags struct {
	config    string
	dumb      bool
	verbosity int
	cpuprof   string
	memprof   string
}

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		tool.Fail(err)
	}
}

func rootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "gramfuzz [grammar]",
		Short: "Grammar-based coverage-guided fuzzer",
		Long: `gramfuzz generates inputs from a context-free grammar, executes them
against an AFL-instrumented target and mutates inputs that reach new coverage.
The optional grammar argument overrides the grammar file from the config.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			log.SetVerbosity(f.verbosity)
			stopProfiling, err := startProfiling(f.cpuprof, f.memprof)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, stopProfiling())
			}()
			grammarFile := ""
			if len(args) != 0 {
				grammarFile = args[0]
			}
			return run(cmd.Context(), f, grammarFile)
		},
	}
	cmd.Flags().StringVar(&f.config, "config", "config.json", "campaign configuration file (json or yaml)")
	cmd.Flags().BoolVar(&f.dumb, "dumb", false, "generate trees without minimal size guidance")
	cmd.Flags().IntVarP(&f.verbosity, "verbosity", "v", 0, "log verbosity level")
	cmd.Flags().StringVar(&f.cpuprof, "cpuprofile", "", "write CPU profile to this file")
	cmd.Flags().StringVar(&f.memprof, "memprofile", "", "write memory profile to this file")
	return cmd
}
