package tools

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

var ErrEmptyCommand = errors.New("tools: empty command")

// StopGrace is how long Stop waits after an interrupt before killing.
const StopGrace = 5 * time.Second

// ProcessSpec describes one child process. Dir is applied to the child only;
// the caller's working directory is never changed.
type ProcessSpec struct {
	Name   string
	Args   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Process is a handle to a running child.
type Process interface {
	Pid() int
	// Done is closed once the child has exited.
	Done() <-chan struct{}
	Exited() bool
	// Err is the wait error after exit, nil while running.
	Err() error
	Stop() error
}

// Launcher starts long-running child processes.
type Launcher interface {
	Launch(spec ProcessSpec) (Process, error)
}

// ExecLauncher launches children with os/exec.
type ExecLauncher struct{}

func (ExecLauncher) Launch(spec ProcessSpec) (Process, error) {
	if spec.Name == "" {
		return nil, ErrEmptyCommand
	}
	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("tools: start %s: %w", spec.Name, err)
	}
	p := &execProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop interrupts the child, then kills it if it outlives StopGrace.
func (p *execProcess) Stop() error {
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		// interrupt is unsupported on some platforms
		if kerr := p.cmd.Process.Kill(); kerr != nil && !p.Exited() {
			return kerr
		}
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(StopGrace):
	}
	if err := p.cmd.Process.Kill(); err != nil && !p.Exited() {
		return err
	}
	<-p.done
	return nil
}
