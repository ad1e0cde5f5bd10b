// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/chunkstore"
	"github.com/google/gramfuzz/pkg/db"
	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/osutil"
	"github.com/google/gramfuzz/pkg/queue"
	"github.com/sugawarayuuta/sonnet"
)

var ErrNoCheckpoint = errors.New("no checkpoint found")

type Checkpoint struct {
	Meta    Meta
	Items   []*queue.Item
	Bitmaps map[bool][]byte
	Chunks  []*chunkstore.Chunk
}

// Load reads a checkpoint saved in dir. All trees are validated against the grammar
// and the checkpoint must have been made with the same grammar file.
func Load(dir string, ctx *grammar.Context, grammarHash string) (*Checkpoint, error) {
	metaFile := filepath.Join(dir, MetaFile)
	if !osutil.IsExist(metaFile) {
		return nil, ErrNoCheckpoint
	}
	cp := new(Checkpoint)
	if err := readJSON(metaFile, &cp.Meta); err != nil {
		return nil, err
	}
	if cp.Meta.Version != currentVersion {
		return nil, fmt.Errorf("checkpoint version %v, want %v", cp.Meta.Version, currentVersion)
	}
	if cp.Meta.GrammarHash != grammarHash {
		return nil, fmt.Errorf("checkpoint was made with a different grammar (%v vs %v)",
			cp.Meta.GrammarHash, grammarHash)
	}
	var q savedQueue
	if err := readJSON(filepath.Join(dir, QueueFile), &q); err != nil {
		return nil, err
	}
	for _, item := range q.Items {
		if item == nil || item.Tree == nil {
			return nil, fmt.Errorf("%v: item without a tree", QueueFile)
		}
		if err := item.Tree.Validate(ctx); err != nil {
			return nil, fmt.Errorf("%v: item %v: %w", QueueFile, item.ID, err)
		}
	}
	cp.Items = q.Items

	data, err := os.ReadFile(filepath.Join(dir, BitmapsFile))
	if err != nil {
		return nil, err
	}
	var bitmaps savedBitmaps
	if err := decompress(data, &bitmaps); err != nil {
		return nil, fmt.Errorf("failed to parse %v: %w", BitmapsFile, err)
	}
	cp.Bitmaps = map[bool][]byte{false: bitmaps.Normal, true: bitmaps.Crash}

	chunkDB, err := db.Open(filepath.Join(dir, ChunkstoreFile), false)
	if err != nil {
		return nil, fmt.Errorf("failed to open %v: %w", ChunkstoreFile, err)
	}
	if chunkDB.Version != currentVersion {
		return nil, fmt.Errorf("%v version %v, want %v", ChunkstoreFile, chunkDB.Version, currentVersion)
	}
	for _, key := range chunkDB.Keys() {
		chunk := new(chunkstore.Chunk)
		if err := sonnet.Unmarshal(chunkDB.Records[key].Val, chunk); err != nil {
			return nil, fmt.Errorf("%v: chunk %v: %w", ChunkstoreFile, key, err)
		}
		if chunk.Tree == nil {
			return nil, fmt.Errorf("%v: chunk %v without a tree", ChunkstoreFile, key)
		}
		if err := chunk.Tree.Validate(ctx); err != nil {
			return nil, fmt.Errorf("%v: chunk %v: %w", ChunkstoreFile, key, err)
		}
		cp.Chunks = append(cp.Chunks, chunk)
	}
	return cp, nil
}

// Restore puts the checkpoint contents into a fresh campaign state and chunk store.
func (cp *Checkpoint) Restore(shared *campaign.State, chunks *chunkstore.Wrapper) error {
	var err error
	shared.Do(func(sh *campaign.Shared) {
		for crashed, bitmap := range cp.Bitmaps {
			if len(bitmap) != len(sh.Bitmaps[crashed]) {
				err = fmt.Errorf("checkpoint bitmap size %v does not match bitmap_size %v",
					len(bitmap), len(sh.Bitmaps[crashed]))
				return
			}
		}
		for crashed, bitmap := range cp.Bitmaps {
			copy(sh.Bitmaps[crashed], bitmap)
		}
		sh.Queue.Restore(cp.Items)
	})
	if err != nil {
		return err
	}
	chunks.Write(func(cs *chunkstore.ChunkStore) {
		for _, chunk := range cp.Chunks {
			cs.AddChunk(chunk)
		}
		cs.SetTrees(cp.Meta.Chunks)
	})
	return nil
}

func readJSON(filename string, v any) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := sonnet.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %v: %w", filepath.Base(filename), err)
	}
	return nil
}
