package main

import (
	"bytes"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/onionchat/internal/onion"
	"github.com/danmuck/onionchat/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	log.Debug().Strs("args", args).Str("out", out.String()).Err(err).Msg("onionchatd/cli")
	return out.String(), err
}

func TestCheckAddress(t *testing.T) {
	testlog.Start(t)
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := onion.FromPublicKey(pub)

	out, err := execute(t, "check-address", " "+addr+".onion")
	if err != nil {
		t.Fatalf("expected valid address, got %v", err)
	}
	if !strings.Contains(out, addr+" ok") {
		t.Fatalf("expected normalized ok line, got %q", out)
	}

	out, err = execute(t, "check-address", addr, "not-an-address")
	if err == nil {
		t.Fatalf("expected error for invalid address")
	}
	if !strings.Contains(out, "not-an-address invalid") {
		t.Fatalf("expected invalid line, got %q", out)
	}
}

func TestConfigInitThenValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "onionchat.toml")

	if _, err := execute(t, "config", "init", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected template on disk: %v", err)
	}
	if _, err := execute(t, "config", "init", path); err == nil {
		t.Fatalf("expected init to refuse overwriting without --force")
	}
	if _, err := execute(t, "config", "init", "--force", path); err != nil {
		t.Fatalf("config init --force: %v", err)
	}

	out, err := execute(t, "config", "validate", path)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "ok: 0 buddies") {
		t.Fatalf("unexpected validate output %q", out)
	}
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[client]\nlisten_port = 0\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := execute(t, "config", "validate", path); err == nil {
		t.Fatalf("expected validation error")
	}
}
