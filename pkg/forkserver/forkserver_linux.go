// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package forkserver

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/gramfuzz/pkg/osutil"
	"golang.org/x/sys/unix"
)

type Forkserver struct {
	opts   Options
	cmd    *exec.Cmd
	shmID  int
	shm    []byte
	input  *os.File
	stderr *os.File
	ctlW   *os.File
	stR    *os.File
	buf    [4]byte
}

func New(opts Options) (*Forkserver, error) {
	if opts.BitmapSize <= 0 {
		return nil, fmt.Errorf("bad bitmap size %v", opts.BitmapSize)
	}
	fs := &Forkserver{opts: opts, shmID: -1}
	if err := fs.start(); err != nil {
		fs.Close()
		return nil, err
	}
	return fs, nil
}

func (fs *Forkserver) start() error {
	var err error
	fs.shmID, err = unix.SysvShmGet(unix.IPC_PRIVATE, fs.opts.BitmapSize, unix.IPC_CREAT|unix.IPC_EXCL|0600)
	if err != nil {
		fs.shmID = -1
		return fmt.Errorf("failed to create shared memory: %w", err)
	}
	fs.shm, err = unix.SysvShmAttach(fs.shmID, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to attach shared memory: %w", err)
	}
	dir := fs.opts.Workdir
	if dir == "" {
		dir = os.TempDir()
	}
	fs.input, err = os.CreateTemp(dir, "cur_input_")
	if err != nil {
		return fmt.Errorf("failed to create input file: %w", err)
	}
	fs.stderr, err = os.CreateTemp(dir, "cur_stderr_")
	if err != nil {
		return fmt.Errorf("failed to create stderr file: %w", err)
	}
	// O_APPEND makes child writes land at the current end after we truncate the file.
	stderrPath := fs.stderr.Name()
	fs.stderr.Close()
	fs.stderr, err = os.OpenFile(stderrPath, os.O_RDWR|os.O_APPEND, osutil.DefaultFilePerm)
	if err != nil {
		return err
	}
	ctlR, ctlW, err := os.Pipe()
	if err != nil {
		return err
	}
	defer ctlR.Close()
	fs.ctlW = ctlW
	stR, stW, err := os.Pipe()
	if err != nil {
		return err
	}
	defer stW.Close()
	fs.stR = stR

	args, fileInput := substituteInput(fs.opts.Args, fs.input.Name())
	fs.cmd = osutil.Command(fs.opts.Bin, args...)
	fs.cmd.Dir = filepath.Dir(fs.input.Name())
	fs.cmd.Env = append(append(os.Environ(), fs.opts.Env...), shmEnv+"="+strconv.Itoa(fs.shmID))
	fs.cmd.ExtraFiles = make([]*os.File, stFd-2)
	fs.cmd.ExtraFiles[ctlFd-3] = ctlR
	fs.cmd.ExtraFiles[stFd-3] = stW
	if !fileInput {
		fs.cmd.Stdin = fs.input
	}
	fs.cmd.Stderr = fs.stderr
	if err := fs.cmd.Start(); err != nil {
		fs.cmd = nil
		return fmt.Errorf("failed to start %v: %w", fs.opts.Bin, err)
	}
	if err := fs.readStatus(handshakeTimeout); err != nil {
		return fmt.Errorf("forkserver handshake failed: %w\n%s", err, fs.readStderr())
	}
	return nil
}

func (fs *Forkserver) readStatus(timeout time.Duration) error {
	if err := fs.stR.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := io.ReadFull(fs.stR, fs.buf[:])
	return err
}

// Run executes the target on the input once.
// An error means that the forkserver is unusable and must be restarted.
func (fs *Forkserver) Run(data []byte) (*Result, error) {
	for i := range fs.shm {
		fs.shm[i] = 0
	}
	if err := fs.writeInput(data); err != nil {
		return nil, err
	}
	if err := fs.stderr.Truncate(0); err != nil {
		return nil, err
	}
	start := time.Now()
	if _, err := fs.ctlW.Write(make([]byte, 4)); err != nil {
		return nil, fmt.Errorf("failed to write control pipe: %w", err)
	}
	if err := fs.readStatus(handshakeTimeout); err != nil {
		return nil, fmt.Errorf("failed to read child pid: %w", err)
	}
	pid := int(int32(binary.LittleEndian.Uint32(fs.buf[:])))
	if pid <= 0 {
		return nil, fmt.Errorf("forkserver returned bad pid %v", pid)
	}
	var timedOut atomic.Bool
	timer := time.AfterFunc(fs.opts.Timeout, func() {
		timedOut.Store(true)
		unix.Kill(pid, unix.SIGKILL)
	})
	err := fs.readStatus(fs.opts.Timeout + statusSlack)
	timer.Stop()
	if err != nil {
		return nil, fmt.Errorf("failed to read child status: %w", err)
	}
	res := &Result{
		Duration: time.Since(start),
		Reason:   exitReason(syscall.WaitStatus(binary.LittleEndian.Uint32(fs.buf[:])), timedOut.Load()),
		Trace:    make([]byte, len(fs.shm)),
	}
	copy(res.Trace, fs.shm)
	Classify(res.Trace)
	if res.Reason.Kind != ExitNormal {
		res.Stderr = fs.readStderr()
	}
	return res, nil
}

func (fs *Forkserver) writeInput(data []byte) error {
	if _, err := fs.input.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := fs.input.Truncate(0); err != nil {
		return err
	}
	if _, err := fs.input.Write(data); err != nil {
		return fmt.Errorf("failed to write input: %w", err)
	}
	_, err := fs.input.Seek(0, io.SeekStart)
	return err
}

func (fs *Forkserver) readStderr() []byte {
	buf := make([]byte, maxStderr)
	n, _ := fs.stderr.ReadAt(buf, 0)
	return buf[:n]
}

// Close kills the forkserver and releases all resources.
func (fs *Forkserver) Close() error {
	if fs.cmd != nil {
		osutil.KillGroup(fs.cmd)
		fs.cmd.Wait()
		fs.cmd = nil
	}
	for _, f := range []*os.File{fs.ctlW, fs.stR} {
		if f != nil {
			f.Close()
		}
	}
	fs.ctlW, fs.stR = nil, nil
	for _, f := range []*os.File{fs.input, fs.stderr} {
		if f != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}
	fs.input, fs.stderr = nil, nil
	if fs.shm != nil {
		unix.SysvShmDetach(fs.shm)
		fs.shm = nil
	}
	if fs.shmID != -1 {
		unix.SysvShmCtl(fs.shmID, unix.IPC_RMID, nil)
		fs.shmID = -1
	}
	return nil
}
