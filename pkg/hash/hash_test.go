// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package hash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	sig := Hash([]byte("foo"), []byte("bar"))
	assert.Equal(t, sig, Hash([]byte("foobar")))
	assert.Equal(t, "8843d7f92416211de9ebb963ff4ce28125932878", sig.String())
	assert.Equal(t, "8843d7f92416211d", sig.Short())
	parsed, err := FromString(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)

	_, err = FromString("zz")
	assert.Error(t, err)
	_, err = FromString("abcd")
	assert.Error(t, err)
}

func TestFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "grammar.json")
	require.NoError(t, os.WriteFile(fn, []byte("foobar"), 0644))
	sig, err := File(fn)
	require.NoError(t, err)
	assert.Equal(t, String([]byte("foobar")), sig.String())
	_, err = File(fn + ".missing")
	assert.Error(t, err)
}

func TestTruncate64(t *testing.T) {
	var sig Sig
	sig[0] = 1
	sig[1] = 2
	assert.Equal(t, uint64(0x0201), sig.Truncate64())
}
