// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package crashdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	ctx := context.Background()
	fn := filepath.Join(t.TempDir(), "crashes.db")
	db, err := Open(fn)
	require.NoError(t, err)

	isNew, err := db.Record(ctx, Crash{Sig: "a", Category: "signal", Title: "SIGSEGV", Path: "/x/a"})
	require.NoError(t, err)
	assert.True(t, isNew)
	isNew, err = db.Record(ctx, Crash{Sig: "a", Category: "signal", Title: "SIGSEGV", Path: "/x/a2"})
	require.NoError(t, err)
	assert.False(t, isNew)
	isNew, err = db.Record(ctx, Crash{Sig: "b", Category: "sanitizer", Title: "heap-buffer-overflow", Path: "/x/b"})
	require.NoError(t, err)
	assert.True(t, isNew)
	require.NoError(t, db.Close())

	db, err = Open(fn)
	require.NoError(t, err)
	defer db.Close()
	crashes, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, crashes, 2)
	assert.Equal(t, "a", crashes[0].Sig)
	assert.Equal(t, 2, crashes[0].Count)
	assert.Equal(t, "/x/a", crashes[0].Path)
	assert.Equal(t, "sanitizer", crashes[1].Category)
	assert.Equal(t, 1, crashes[1].Count)
}
