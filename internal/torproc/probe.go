package torproc

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/onionchat/internal/tools"
)

// ProbeVersion runs the configured command with --version in Dir and
// returns the first line it prints.
func ProbeVersion(ctx context.Context, r tools.CommandRunner, cfg Config) (string, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return "", ErrNotSupported
	}
	res, err := r.Run(ctx, tools.ProcessSpec{
		Name: cfg.Command,
		Args: []string{"--version"},
		Dir:  cfg.Dir,
	})
	if err != nil {
		msg := res.Diagnostic()
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("torproc: %s --version exit=%d: %s", cfg.Command, res.ExitCode, msg)
	}
	if line := res.FirstLine(); line != "" {
		return line, nil
	}
	return "", fmt.Errorf("torproc: %s --version printed nothing", cfg.Command)
}
