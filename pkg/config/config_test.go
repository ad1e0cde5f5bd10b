// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package config

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Nested struct {
	Aaa int    `json:"aaa" yaml:"aaa"`
	Bbb string `json:"bbb" yaml:"bbb"`
}

type testConfig struct {
	Foo  int      `json:"foo" yaml:"foo"`
	Bar  string   `json:"bar" yaml:"bar"`
	Qux  []string `json:"qux" yaml:"qux"`
	Box  Nested   `json:"box" yaml:"box"`
	Boq  *Nested  `json:"boq" yaml:"boq"`
	Flag bool     `json:"flag" yaml:"flag"`
}

func TestLoad(t *testing.T) {
	tests := []struct {
		input  string
		format Format
		output testConfig
		err    bool
	}{
		{
			input:  `{"foo": 42}`,
			output: testConfig{Foo: 42},
		},
		{
			input: `
# comment line
{"bar": "baz", "foo": 42}`,
			output: testConfig{Foo: 42, Bar: "baz"},
		},
		{
			input: `{"foobar": 42}`,
			err:   true,
		},
		{
			input:  `{"box": {"aaa": 12, "bbb": "bbb"}, "boq": {"aaa": 1}}`,
			output: testConfig{Box: Nested{Aaa: 12, Bbb: "bbb"}, Boq: &Nested{Aaa: 1}},
		},
		{
			input: `{"box": {"aaa": 12, "ccc": "bbb"}}`,
			err:   true,
		},
		{
			input:  "foo: 3\nqux: [a, b]\nflag: true\n",
			format: YAML,
			output: testConfig{Foo: 3, Qux: []string{"a", "b"}, Flag: true},
		},
		{
			input:  "foo: 3\nunknown: 1\n",
			format: YAML,
			err:    true,
		},
		{
			input:  "",
			format: YAML,
			output: testConfig{},
		},
	}
	for i, test := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			var cfg testConfig
			err := LoadFormat([]byte(test.input), test.format, &cfg)
			if test.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(test.output, cfg); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestLoadBadType(t *testing.T) {
	want := "config type is not pointer to struct"
	if err := LoadData([]byte("{}"), 1); err == nil || err.Error() != want {
		t.Fatalf("got '%v', want '%v'", err, want)
	}
	i := 0
	if err := LoadData([]byte("{}"), &i); err == nil || err.Error() != want {
		t.Fatalf("got '%v', want '%v'", err, want)
	}
	s := struct{}{}
	if err := LoadData([]byte("{}"), s); err == nil || err.Error() != want {
		t.Fatalf("got '%v', want '%v'", err, want)
	}
}

func TestSaveLoadFile(t *testing.T) {
	for _, name := range []string{"cfg.json", "cfg.yaml"} {
		fn := filepath.Join(t.TempDir(), name)
		in := testConfig{Foo: 7, Bar: "x", Qux: []string{"q"}}
		require.NoError(t, SaveFile(fn, &in))
		var out testConfig
		require.NoError(t, LoadFile(fn, &out))
		assert.Equal(t, in, out)
	}
	assert.Error(t, LoadFile("", &testConfig{}))
}
