// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExist(t *testing.T) {
	if f := os.Args[0]; !IsExist(f) {
		t.Fatalf("executable %v does not exist", f)
	}
	if f := os.Args[0] + "-foo-bar-buz"; IsExist(f) {
		t.Fatalf("file %v exists", f)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "saved_queue.json")
	require.NoError(t, WriteFileAtomic(fn, []byte("first")))
	require.NoError(t, WriteFileAtomic(fn, []byte("second")))
	data, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.False(t, IsExist(fn+".tmp"))
}

func TestAbs(t *testing.T) {
	assert.Equal(t, "", Abs(""))
	assert.Equal(t, "/a/b", Abs("/a/b"))
	assert.True(t, filepath.IsAbs(Abs("workdir")))
}
