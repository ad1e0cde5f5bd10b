// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sugawarayuuta/sonnet"
)

// RuleDef is a (name, pattern) pair as produced by grammar loaders.
type RuleDef struct {
	Name    string
	Pattern string
}

// LoadFile parses a grammar file and returns an uninitialized context.
// Supported formats are a JSON list of [name, pattern] pairs (.json)
// and a subset of ANTLR4 grammars (.g4). In both cases the first declared
// rule becomes the root: START -> {first}.
func LoadFile(filename string) (*Context, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read grammar file: %w", err)
	}
	var defs []RuleDef
	switch ext := filepath.Ext(filename); ext {
	case ".json":
		defs, err = ParseJSON(data)
	case ".g4":
		defs, err = ParseANTLR(data)
	default:
		return nil, fmt.Errorf("unknown grammar type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse grammar %v: %w", filename, err)
	}
	return Build(defs)
}

// Build creates a context from rule definitions and synthesizes the START rule.
func Build(defs []RuleDef) (*Context, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("grammar has no rules")
	}
	ctx := NewContext()
	if _, err := ctx.AddRule(StartSymbol, "{"+defs[0].Name+"}"); err != nil {
		return nil, err
	}
	for _, def := range defs {
		if _, err := ctx.AddRule(def.Name, def.Pattern); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

func ParseJSON(data []byte) ([]RuleDef, error) {
	var raw [][]string
	if err := sonnet.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var defs []RuleDef
	for i, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("rule #%v: want [name, pattern], got %q", i, pair)
		}
		defs = append(defs, RuleDef{pair[0], pair[1]})
	}
	return defs, nil
}
