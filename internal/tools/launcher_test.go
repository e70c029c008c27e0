package tools

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/danmuck/onionchat/internal/testutil/testlog"
)

func requireShell(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecLauncherRejectsEmptyCommand(t *testing.T) {
	testlog.Start(t)
	if _, err := (ExecLauncher{}).Launch(ProcessSpec{}); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestExecLauncherRunsInDir(t *testing.T) {
	testlog.Start(t)
	sh := requireShell(t)
	dir := t.TempDir()
	p, err := (ExecLauncher{}).Launch(ProcessSpec{
		Name: sh,
		Args: []string{"-c", "echo ok > marker"},
		Dir:  dir,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not exit")
	}
	if !p.Exited() || p.Err() != nil {
		t.Fatalf("unexpected exit state: exited=%v err=%v", p.Exited(), p.Err())
	}
	if _, err := (ExecRunner{}).Run(context.Background(), ProcessSpec{
		Name: "test",
		Args: []string{"-f", filepath.Join(dir, "marker")},
	}); err != nil {
		t.Fatalf("marker missing in child dir: %v", err)
	}
}

func TestExecLauncherStop(t *testing.T) {
	testlog.Start(t)
	sh := requireShell(t)
	p, err := (ExecLauncher{}).Launch(ProcessSpec{Name: sh, Args: []string{"-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if p.Pid() <= 0 || p.Exited() {
		t.Fatalf("expected running process")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !p.Exited() {
		t.Fatalf("expected exited process")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestExecRunnerCapturesOutputInDir(t *testing.T) {
	testlog.Start(t)
	sh := requireShell(t)
	dir := t.TempDir()
	res, err := (ExecRunner{}).Run(context.Background(), ProcessSpec{
		Name: sh,
		Args: []string{"-c", "echo; pwd; echo warn >&2"},
		Dir:  dir,
		Env:  []string{"ONIONCHAT_RUNNER=1"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("eval dir: %v", err)
	}
	got, err := filepath.EvalSymlinks(res.FirstLine())
	if err != nil || got != want {
		t.Fatalf("expected first line %q, got %q (%v)", want, res.FirstLine(), err)
	}
	if res.Diagnostic() != "warn" || res.ExitCode != 0 {
		t.Fatalf("unexpected result: diag=%q code=%d", res.Diagnostic(), res.ExitCode)
	}
}

func TestExecRunnerExitCodes(t *testing.T) {
	testlog.Start(t)
	sh := requireShell(t)
	ctx := context.Background()
	res, err := (ExecRunner{}).Run(ctx, ProcessSpec{Name: sh, Args: []string{"-c", "echo bad >&2; exit 3"}})
	if err == nil || res.ExitCode != 3 || res.Diagnostic() != "bad" {
		t.Fatalf("expected exit 3 with stderr, got code=%d diag=%q err=%v", res.ExitCode, res.Diagnostic(), err)
	}
	res, err = (ExecRunner{}).Run(ctx, ProcessSpec{Name: "definitely-not-a-real-binary-onionchat"})
	if err == nil || res.ExitCode != 127 {
		t.Fatalf("expected 127, got code=%d err=%v", res.ExitCode, err)
	}
	if _, err := (ExecRunner{}).Run(ctx, ProcessSpec{}); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	testlog.Start(t)
	sh := requireShell(t)
	start := time.Now()
	_, err := (ExecRunner{Timeout: 50 * time.Millisecond}).Run(context.Background(), ProcessSpec{
		Name: sh,
		Args: []string{"-c", "sleep 30"},
	})
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("expected ErrCommandTimeout, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("timeout did not stop the command")
	}
}
