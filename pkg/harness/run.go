// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/gramfuzz/pkg/campaign"
	"github.com/google/gramfuzz/pkg/chunkstore"
	"github.com/google/gramfuzz/pkg/crashdb"
	"github.com/google/gramfuzz/pkg/forkserver"
	"github.com/google/gramfuzz/pkg/grammar"
	"github.com/google/gramfuzz/pkg/hash"
	"github.com/google/gramfuzz/pkg/log"
	"github.com/google/gramfuzz/pkg/osutil"
)

// runOn executes the tree and records everything new it finds.
// The strategy is credited if the tree is admitted to the queue.
func (h *Harness) runOn(tree *grammar.Tree, strategy campaign.Strategy) (*forkserver.Result, error) {
	data := h.ctx.Unparse(tree)
	if h.opts.Dump {
		h.dump(data)
	}
	res, err := h.exec.Run(data)
	if err != nil {
		return nil, &Error{Err: err}
	}
	h.noteExec(res)
	if log.V(3) && len(res.Stderr) != 0 {
		log.Logf(3, "target output:\n%s", res.Stderr)
	}
	kind, title, crashed := classify(res)
	// A queued item may be popped by another worker as soon as the lock is released.
	var added *grammar.Tree
	addedID := 0
	isNew := false
	h.shared.Do(func(sh *campaign.Shared) {
		seen := sh.Bitmaps[crashed]
		if len(forkserver.NewBits(seen, res.Trace)) == 0 {
			return
		}
		isNew = true
		forkserver.Merge(seen, res.Trace)
		if crashed {
			sh.RecordCrash(kind, title)
			return
		}
		if item, ok := sh.Queue.Add(tree.Clone(), data, forkserver.NonZero(res.Trace),
			res.Reason.String(), res.Duration); ok {
			added, addedID = item.Tree, item.ID
		}
	})
	if added != nil {
		h.chunks.Write(func(cs *chunkstore.ChunkStore) {
			cs.AddTree(added, h.ctx)
		})
		h.local.Found[strategy]++
		log.Logf(2, "new input %v by %v: %q", addedID, strategy, data)
	}
	if crashed {
		h.saveCrash(data, res, kind, title, isNew)
	}
	return res, nil
}

// saveCrash stores crashes with new coverage and every crash unknown to the crash ledger.
func (h *Harness) saveCrash(data []byte, res *forkserver.Result, kind campaign.CrashKind, title string, isNew bool) {
	sig := hash.Hash(data)
	dir := SignaledDir
	if kind == campaign.CrashTimeout {
		dir = TimeoutDir
	}
	path := filepath.Join(OutputDir(h.opts.Workdir, dir), fmt.Sprintf("%v_%v", res.Reason, sig.Short()))
	save := func() {
		if err := osutil.WriteFile(path, data); err != nil {
			log.Logf(0, "failed to save crash: %v", err)
		}
	}
	if isNew {
		log.Logf(0, "new %v crash: %v", kind, title)
		save()
	}
	if h.opts.CrashDB == nil {
		return
	}
	fresh, err := h.opts.CrashDB.Record(context.Background(), crashdb.Crash{
		Sig:      sig.String(),
		Category: kind.String(),
		Title:    title,
		Path:     path,
	})
	if err != nil {
		log.Logf(0, "%v", err)
		return
	}
	if fresh && !isNew {
		save()
	}
}

func (h *Harness) dump(data []byte) {
	h.dumped++
	path := filepath.Join(OutputDir(h.opts.Workdir, DumpDir), fmt.Sprintf("%v_%v", h.id, h.dumped))
	if err := osutil.WriteFile(path, data); err != nil {
		log.Logf(0, "failed to dump input: %v", err)
	}
}
