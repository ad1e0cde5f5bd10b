// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package checkpoint periodically persists the queue, coverage bitmaps and the chunk store.
// The three parts are saved one after another, each under its own lock,
// so a checkpoint is not an atomic snapshot of the campaign.
package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/chunkstore"
	"github.com/google/gramfuzz/pkg/db"
	"github.com/google/gramfuzz/pkg/hash"
	"github.com/google/gramfuzz/pkg/log"
	"github.com/google/gramfuzz/pkg/osutil"
	"github.com/google/gramfuzz/pkg/queue"
	"github.com/sugawarayuuta/sonnet"
	"github.com/ulikunitz/xz"
)

const (
	QueueFile      = "saved_queue.json"
	BitmapsFile    = "saved_bitmaps.json.xz"
	ChunkstoreFile = "saved_chunkstore.db"
	MetaFile       = "saved_meta.json"

	currentVersion = 1
)

type Meta struct {
	Version     int       `json:"version"`
	CampaignID  string    `json:"campaign_id"`
	GrammarHash string    `json:"grammar_hash"`
	Saved       time.Time `json:"saved"`
	QueueItems  int       `json:"queue_items"`
	Chunks      int       `json:"chunks"`
}

type savedQueue struct {
	Items []*queue.Item `json:"items"`
}

type savedBitmaps struct {
	Normal []byte `json:"normal"`
	Crash  []byte `json:"crash"`
}

type Saver struct {
	dir         string
	interval    time.Duration
	grammarHash string
	shared      *campaign.State
	chunks      *chunkstore.Wrapper
	chunkDB     *db.DB
}

func NewSaver(dir string, interval time.Duration, grammarHash string, shared *campaign.State,
	chunks *chunkstore.Wrapper) *Saver {
	return &Saver{
		dir:         dir,
		interval:    interval,
		grammarHash: grammarHash,
		shared:      shared,
		chunks:      chunks,
	}
}

// Loop saves a checkpoint every interval until ctx is cancelled.
// The final checkpoint is up to the caller: it must be saved after all workers
// have stopped and returned their items to the queue, otherwise the items are lost.
func (s *Saver) Loop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Save(); err != nil {
				return err
			}
		}
	}
}

func (s *Saver) Save() error {
	start := time.Now()
	meta := Meta{
		Version:     currentVersion,
		CampaignID:  s.shared.ID,
		GrammarHash: s.grammarHash,
	}
	var data []byte
	var err error
	s.shared.Do(func(sh *campaign.Shared) {
		items := sh.Queue.Items()
		meta.QueueItems = len(items)
		data, err = sonnet.Marshal(savedQueue{Items: items})
	})
	if err != nil {
		return fmt.Errorf("failed to serialize queue: %w", err)
	}
	if err := osutil.WriteFileAtomic(filepath.Join(s.dir, QueueFile), data); err != nil {
		return err
	}

	var bitmaps savedBitmaps
	s.shared.Do(func(sh *campaign.Shared) {
		bitmaps.Normal = append([]byte{}, sh.Bitmaps[false]...)
		bitmaps.Crash = append([]byte{}, sh.Bitmaps[true]...)
	})
	if data, err = compress(bitmaps); err != nil {
		return fmt.Errorf("failed to serialize bitmaps: %w", err)
	}
	if err := osutil.WriteFileAtomic(filepath.Join(s.dir, BitmapsFile), data); err != nil {
		return err
	}

	chunks, err := s.saveChunks(&meta)
	if err != nil {
		return fmt.Errorf("failed to save chunk store: %w", err)
	}

	meta.Saved = time.Now()
	if data, err = sonnet.Marshal(meta); err != nil {
		return err
	}
	if err := osutil.WriteFileAtomic(filepath.Join(s.dir, MetaFile), data); err != nil {
		return err
	}
	s.shared.SetSaved(meta.Saved)
	log.Logf(1, "saved checkpoint: %v items, %v new chunks in %v", meta.QueueItems, chunks, time.Since(start))
	return nil
}

// saveChunks appends chunks that are not yet in the database and drops records
// left from a different campaign. Chunks are never removed from the store,
// so after the first save only new chunks are written.
func (s *Saver) saveChunks(meta *Meta) (int, error) {
	if s.chunkDB == nil {
		chunkDB, err := db.Open(filepath.Join(s.dir, ChunkstoreFile), true)
		if chunkDB == nil {
			return 0, err
		}
		if err != nil {
			log.Logf(0, "chunk store checkpoint is corrupted, recovered %v records: %v",
				len(chunkDB.Records), err)
		}
		s.chunkDB = chunkDB
	}
	live := make(map[string]bool)
	added := 0
	var err error
	s.chunks.Read(func(cs *chunkstore.ChunkStore) {
		for _, chunk := range cs.Chunks() {
			key := chunk.Sig().String()
			live[key] = true
			if _, ok := s.chunkDB.Records[key]; ok {
				continue
			}
			val, err1 := sonnet.Marshal(chunk)
			if err1 != nil {
				err = err1
				return
			}
			s.chunkDB.Save(key, val, 0)
			added++
		}
		meta.Chunks = cs.Trees()
	})
	if err != nil {
		return 0, err
	}
	for _, key := range s.chunkDB.Keys() {
		if !live[key] {
			s.chunkDB.Delete(key)
		}
	}
	if err := s.chunkDB.BumpVersion(currentVersion); err != nil {
		return 0, err
	}
	return added, nil
}

func compress(v any) ([]byte, error) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	w, err := xz.NewWriter(buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte, v any) error {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return sonnet.Unmarshal(raw, v)
}

// GrammarHash identifies the grammar a checkpoint was made with.
func GrammarHash(grammarFile string) (string, error) {
	sig, err := hash.File(grammarFile)
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}
