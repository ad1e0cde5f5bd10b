// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"encoding/json"
	"math/rand"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gramfuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		pattern string
		parts   []rawPart
		err     bool
	}{
		{"", nil, false},
		{"abc", []rawPart{{literal: []byte("abc")}}, false},
		{"{A}", []rawPart{{nt: "A"}}, false},
		{"x{A}y{B_1}", []rawPart{{literal: []byte("x")}, {nt: "A"}, {literal: []byte("y")}, {nt: "B_1"}}, false},
		{`\{not\}\\`, []rawPart{{literal: []byte(`{not}\`)}}, false},
		{`a\nb`, []rawPart{{literal: []byte(`a\nb`)}}, false},
		{"{A", nil, true},
		{"A}", nil, true},
		{"{1A}", nil, true},
		{"{}", nil, true},
		{`\`, nil, true},
	}
	for _, test := range tests {
		t.Run(test.pattern, func(t *testing.T) {
			parts, err := parsePattern(test.pattern)
			if test.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(test.parts, parts, cmp.AllowUnexported(rawPart{})); diff != "" {
				t.Fatal(diff)
			}
		})
	}
	assert.Equal(t, `\{x\}\\`, EscapeLiteral([]byte(`{x}\`)))
}

func exprContext(t *testing.T) *Context {
	ctx, err := LoadFile(filepath.Join("testdata", "expr.json"))
	require.NoError(t, err)
	require.NoError(t, ctx.Initialize(100))
	return ctx
}

func TestInitialize(t *testing.T) {
	ctx := exprContext(t)
	num, ok := ctx.NTermID("NUM")
	require.True(t, ok)
	expr, _ := ctx.NTermID("EXPR")
	start, _ := ctx.NTermID(StartSymbol)
	assert.Equal(t, 1, ctx.MinSize(num))
	assert.Equal(t, 2, ctx.MinSize(expr))
	assert.Equal(t, 3, ctx.MinSize(start))
	assert.Len(t, ctx.RulesFor(expr), 3)
	assert.Equal(t, "NUM", ctx.NTermName(num))
	assert.Equal(t, 7, ctx.NumRules())

	_, err := ctx.AddRule("NUM", "3")
	assert.Error(t, err)

	undefined := NewContext()
	_, err = undefined.AddRule("A", "{B}")
	require.NoError(t, err)
	assert.ErrorContains(t, undefined.Initialize(10), "B is used but not defined")

	infinite := NewContext()
	_, err = infinite.AddRule("A", "a")
	require.NoError(t, err)
	_, err = infinite.AddRule("B", "{B}b")
	require.NoError(t, err)
	assert.ErrorContains(t, infinite.Initialize(10), "B has no finite derivation")

	assert.Error(t, NewContext().Initialize(10))
	assert.Error(t, exprContext(t).Initialize(0))
}

func TestGenerate(t *testing.T) {
	ctx := exprContext(t)
	rnd := rand.New(testutil.RandSource(t))
	valid := regexp.MustCompile(`^[()0-9+ ]+$`)
	for i := 0; i < testutil.IterCount(); i++ {
		maxLen := 3 + rnd.Intn(50)
		tree, err := ctx.Generate(StartSymbol, maxLen, rnd)
		require.NoError(t, err)
		require.NoError(t, tree.Validate(ctx))
		assert.LessOrEqual(t, tree.Len(), maxLen)
		data := ctx.Unparse(tree)
		assert.Regexp(t, valid, string(data))
	}
	_, err := ctx.Generate("NOPE", 10, rnd)
	assert.Error(t, err)
	_, err = NewContext().Generate(StartSymbol, 10, rnd)
	assert.Error(t, err)
}

func TestGenerateDumb(t *testing.T) {
	ctx := exprContext(t).Clone()
	ctx.SetDumb(true)
	rnd := rand.New(testutil.RandSource(t))
	for i := 0; i < testutil.IterCount()/10; i++ {
		tree, err := ctx.Generate(StartSymbol, 10, rnd)
		require.NoError(t, err)
		require.NoError(t, tree.Validate(ctx))
	}
}

func TestGenerateMinimal(t *testing.T) {
	ctx := exprContext(t)
	start, _ := ctx.NTermID(StartSymbol)
	tree := ctx.GenerateMinimal(start)
	assert.Equal(t, 3, tree.Len())
	assert.Contains(t, []string{"1", "2"}, string(ctx.Unparse(tree)))

	expr, _ := ctx.NTermID("EXPR")
	for _, id := range ctx.RulesFor(expr) {
		tree := ctx.GenerateRule(id)
		require.NoError(t, tree.Validate(ctx))
		assert.Equal(t, id, tree.Nodes[0].Rule)
		assert.Equal(t, ctx.RuleMinSize(id), tree.Len())
	}
}

func TestTreeOps(t *testing.T) {
	ctx := NewContext()
	for _, r := range [][2]string{
		{"S", "{A}{B}"},
		{"A", "a"},
		{"A", "[{A}]"},
		{"B", "b"},
	} {
		_, err := ctx.AddRule(r[0], r[1])
		require.NoError(t, err)
	}
	require.NoError(t, ctx.Initialize(100))
	a, _ := ctx.NTermID("A")
	// S -> [[a]] b
	tree := &Tree{Nodes: []Node{
		{Rule: 0, Size: 5, Parent: -1},
		{Rule: 2, Size: 3, Parent: 0},
		{Rule: 2, Size: 2, Parent: 1},
		{Rule: 1, Size: 1, Parent: 2},
		{Rule: 3, Size: 1, Parent: 0},
	}}
	require.NoError(t, tree.Validate(ctx))
	assert.Equal(t, "[[a]]b", string(ctx.Unparse(tree)))
	assert.Equal(t, "[a]", string(ctx.UnparseNode(tree, 2)))
	assert.Equal(t, []int{1, 4}, tree.Children(0))
	assert.Equal(t, a, tree.NTerm(ctx, 3))

	sub := tree.Subtree(2)
	require.NoError(t, sub.Validate(ctx))
	assert.Equal(t, "[a]", string(ctx.Unparse(sub)))

	// Replace the outer recursion with the inner one.
	smaller := tree.Replace(1, tree, 2)
	require.NoError(t, smaller.Validate(ctx))
	assert.Equal(t, "[a]b", string(ctx.Unparse(smaller)))
	assert.Equal(t, 4, smaller.Len())
	assert.Equal(t, "[[a]]b", string(ctx.Unparse(tree)), "original must not change")

	bigger := tree.Replace(3, tree, 1)
	require.NoError(t, bigger.Validate(ctx))
	assert.Equal(t, "[[[[a]]]]b", string(ctx.Unparse(bigger)))

	assert.Equal(t, []Recursion{{Outer: 1, Inner: 2}, {Outer: 2, Inner: 3}, {Outer: 1, Inner: 3}},
		tree.Recursions(ctx))

	custom := tree.Clone()
	custom.Nodes[3].Custom = []byte("zz")
	assert.Equal(t, "[[zz]]b", string(ctx.Unparse(custom)))
	assert.Equal(t, "[[a]]b", string(ctx.Unparse(tree)))

	data, err := json.Marshal(custom)
	require.NoError(t, err)
	var restored Tree
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, custom, &restored)

	broken := tree.Clone()
	broken.Nodes[4].Rule = 1
	assert.Error(t, broken.Validate(ctx))
	broken = tree.Clone()
	broken.Nodes[1].Size = 10
	assert.Error(t, broken.Validate(ctx))
}

func TestLoadJSON(t *testing.T) {
	defs, err := ParseJSON([]byte(`[["A", "x{B}"], ["B", "y"]]`))
	require.NoError(t, err)
	assert.Equal(t, []RuleDef{{"A", "x{B}"}, {"B", "y"}}, defs)
	_, err = ParseJSON([]byte(`[["A"]]`))
	assert.Error(t, err)
	_, err = ParseJSON([]byte(`{`))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join("testdata", "missing.json"))
	assert.Error(t, err)
	_, err = LoadFile(filepath.Join("testdata", "expr.txt"))
	assert.Error(t, err)
	_, err = Build(nil)
	assert.Error(t, err)
}

func TestLoadANTLR(t *testing.T) {
	defs, err := ParseANTLR([]byte(`
grammar T;
a : b (',' b)? 'end' ;
b : 'x' | 'y' ;
`))
	require.NoError(t, err)
	assert.Equal(t, RuleDef{"a", "{b} {a__1} end"}, defs[0])
	assert.Contains(t, defs, RuleDef{"b", "x"})
	assert.Contains(t, defs, RuleDef{"b", "y"})
	assert.Contains(t, defs, RuleDef{"a__1", ""})
	assert.Contains(t, defs, RuleDef{"a__1", ", {b}"})

	ctx, err := LoadFile(filepath.Join("testdata", "expr.g4"))
	require.NoError(t, err)
	require.NoError(t, ctx.Initialize(60))
	rnd := rand.New(testutil.RandSource(t))
	valid := regexp.MustCompile(`^[0-9()+\-xy ]+$`)
	for i := 0; i < testutil.IterCount()/10; i++ {
		tree, err := ctx.Generate(StartSymbol, 60, rnd)
		require.NoError(t, err)
		assert.Regexp(t, valid, string(ctx.Unparse(tree)))
	}

	for _, bad := range []string{
		"a : 'x ;",
		"a : [a-z ;",
		"a : ( 'x' ;",
		"a 'x' ;",
		"a : ~ ;",
		"a : 'x' $ ;",
	} {
		_, err := ParseANTLR([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestCharset(t *testing.T) {
	set, err := parseCharset(`a-c_\n\]`)
	require.NoError(t, err)
	assert.Equal(t, []rune{'a', 'b', 'c', '_', '\n', ']'}, set)
	_, err = parseCharset(`z-a`)
	assert.Error(t, err)
	assert.NotContains(t, printable([]rune{'x'}), 'x')
	assert.Contains(t, printable(nil), '\t')
	assert.Len(t, runeRange('a', 'c'), 3)
	assert.LessOrEqual(t, len(runeRange(0, 0xffff)), maxCharsetRange+2)
}
