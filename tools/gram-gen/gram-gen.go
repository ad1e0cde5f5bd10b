// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// gram-gen generates inputs from a grammar and prints them (or saves them into a directory).
// Useful for debugging grammars before starting a campaign.
package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/hash"
	"github.com/google/gramfuzz/pkg/osutil"
	"github.com/google/gramfuzz/pkg/tool"
	"github.com/sugawarayuuta/sonnet"
)

var (
	flagCount = flag.Int("n", 10, "number of inputs to generate")
	flagSeed  = flag.Int64("seed", -1, "prng seed")
	flagSize  = flag.Int("size", 100, "max tree size in nodes")
	flagNT    = flag.String("nt", grammar.StartSymbol, "nonterminal to generate")
	flagDumb  = flag.Bool("dumb", false, "generate trees without minimal size guidance")
	flagTree  = flag.Bool("tree", false, "print trees in json instead of unparsed inputs")
	flagOut   = flag.String("out", "", "save inputs into this directory instead of printing them")
)

type options struct {
	count int
	seed  int64
	size  int
	nt    string
	dumb  bool
	tree  bool
	out   string
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: gram-gen [flags] grammar.{json,g4}\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	seed := time.Now().UnixNano()
	if *flagSeed != -1 {
		seed = *flagSeed
	}
	err := generate(os.Stdout, flag.Arg(0), options{
		count: *flagCount,
		seed:  seed,
		size:  *flagSize,
		nt:    *flagNT,
		dumb:  *flagDumb,
		tree:  *flagTree,
		out:   *flagOut,
	})
	if err != nil {
		tool.Fail(err)
	}
}

// generate prints opts.count inputs into w, one per line, or saves them into opts.out.
func generate(w io.Writer, grammarFile string, opts options) error {
	ctx, err := grammar.LoadFile(grammarFile)
	if err != nil {
		return err
	}
	ctx.SetDumb(opts.dumb)
	if err := ctx.Initialize(opts.size); err != nil {
		return fmt.Errorf("bad grammar: %w", err)
	}
	if opts.out != "" {
		if err := osutil.MkdirAll(opts.out); err != nil {
			return err
		}
	}
	rnd := rand.New(rand.NewSource(opts.seed))
	for i := 0; i < opts.count; i++ {
		tree, err := ctx.Generate(opts.nt, opts.size, rnd)
		if err != nil {
			return err
		}
		data := ctx.Unparse(tree)
		if opts.tree {
			if data, err = sonnet.Marshal(tree); err != nil {
				return err
			}
		}
		if opts.out == "" {
			if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
				return err
			}
			continue
		}
		file := filepath.Join(opts.out, hash.String(data))
		if err := osutil.WriteFile(file, data); err != nil {
			return err
		}
	}
	return nil
}
