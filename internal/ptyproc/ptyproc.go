// Package ptyproc spawns and manages pty-backed subprocess sessions: a
// pseudoterminal child whose stdin/stdout are raw bytes, wired into a
// bounded replay buffer so a late-attaching subscriber can catch up without
// the writer blocking on a slow reader. The replay/cursor-tracking/safe-cut
// mechanism is adapted from a PTY relay's terminal-aware trimming strategy.
package ptyproc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Size is a pty terminal size in (cols, rows).
type Size struct {
	Cols int
	Rows int
}

// Clamp bounds cols to [12,400] and rows to [6,220].
func (s Size) Clamp() Size {
	if s.Cols < 12 {
		s.Cols = 12
	}
	if s.Cols > 400 {
		s.Cols = 400
	}
	if s.Rows < 6 {
		s.Rows = 6
	}
	if s.Rows > 220 {
		s.Rows = 220
	}
	return s
}

// ExitInfo carries a terminated process's outcome.
type ExitInfo struct {
	Code   int
	Signal string
}

// Process is one running pty-backed subprocess.
type Process struct {
	cmd *exec.Cmd
	pty *os.File

	replay *replayBuffer

	mu       sync.Mutex
	running  bool
	onOutput func([]byte)
	onExit   func(ExitInfo)
}

// Options configures a spawned Process.
type Options struct {
	Command    []string
	Dir        string
	Env        []string
	Size       Size
	ReplayCap  int
	OnOutput   func([]byte)
	OnExit     func(ExitInfo)
	interruptB byte
}

const defaultReplayCap = 256 * 1024

// Start spawns command under a pty and begins relaying its output.
func Start(opts Options) (*Process, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("ptyproc: empty command")
	}
	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	size := opts.Size.Clamp()
	f, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(size.Cols),
		Rows: uint16(size.Rows),
	})
	if err != nil {
		return nil, fmt.Errorf("ptyproc: start pty: %w", err)
	}

	cap := opts.ReplayCap
	if cap <= 0 {
		cap = defaultReplayCap
	}

	p := &Process{
		cmd:      cmd,
		pty:      f,
		replay:   newReplayBuffer(cap),
		running:  true,
		onOutput: opts.OnOutput,
		onExit:   opts.OnExit,
	}

	go p.readLoop()
	go p.waitLoop()

	return p, nil
}

func (p *Process) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.replay.Write(chunk)
			if p.onOutput != nil {
				p.onOutput(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.running = false
	onExit := p.onExit
	p.mu.Unlock()

	info := ExitInfo{}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if status.Signaled() {
					info.Signal = status.Signal().String()
				} else {
					info.Code = status.ExitStatus()
				}
			} else {
				info.Code = exitErr.ExitCode()
			}
		}
	}
	_ = p.pty.Close()
	if onExit != nil {
		onExit(info)
	}
}

// Running reports whether the subprocess has not yet exited.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Write sends raw bytes to the pty. Writing to a non-running process
// returns io.ErrClosedPipe.
func (p *Process) Write(b []byte) error {
	if !p.Running() {
		return io.ErrClosedPipe
	}
	_, err := p.pty.Write(b)
	return err
}

// Interrupt sends b (typically a Ctrl-C byte, 0x03) to the pty.
func (p *Process) Interrupt(b byte) error {
	return p.Write([]byte{b})
}

// Resize applies a new terminal size, clamped to the supported range.
func (p *Process) Resize(size Size) error {
	size = size.Clamp()
	return pty.Setsize(p.pty, &pty.Winsize{Cols: uint16(size.Cols), Rows: uint16(size.Rows)})
}

// Stop sends SIGINT and, when graceMs > 0, kills the child if it is still
// running graceMs later. It does not close stdin.
func (p *Process) Stop(graceMs int) {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGINT)
	}
	if graceMs > 0 {
		time.AfterFunc(time.Duration(graceMs)*time.Millisecond, func() {
			if p.Running() {
				_ = p.Kill()
			}
		})
	}
}

// Kill immediately terminates the subprocess.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Replay returns everything retained in the replay buffer since cursor,
// and the cursor to resume from on the next call.
func (p *Process) Replay(cursor int64) ([]byte, int64) {
	return p.replay.Since(cursor)
}
