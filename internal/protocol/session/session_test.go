package session

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/onionchat/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		got := NextBackoffDelay(cfg, 3, rng)
		if got < 2*time.Second || got > 6*time.Second {
			t.Fatalf("jittered delay out of bounds: %v", got)
		}
	}
}

func TestRetryLifecycle(t *testing.T) {
	testlog.Start(t)
	r := NewRetry(BackoffConfig{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second}, nil)
	now := time.Unix(1700000000, 0)
	if !r.Due(now) {
		t.Fatalf("fresh retry should be due")
	}
	if d := r.Attempt(now); d != time.Second {
		t.Fatalf("unexpected first delay %v", d)
	}
	if r.Due(now.Add(500 * time.Millisecond)) {
		t.Fatalf("retry should not be due before delay")
	}
	if !r.Due(now.Add(time.Second)) {
		t.Fatalf("retry should be due after delay")
	}
	if d := r.Attempt(now.Add(time.Second)); d != 2*time.Second {
		t.Fatalf("unexpected second delay %v", d)
	}
	if r.Attempts() != 2 {
		t.Fatalf("unexpected attempts=%d", r.Attempts())
	}
	r.Reset()
	if r.Attempts() != 0 || !r.Due(now) {
		t.Fatalf("reset did not clear state")
	}
}

func TestOutboxOrderAndSignal(t *testing.T) {
	testlog.Start(t)
	o := NewOutbox()
	for _, s := range []string{"a", "b", "c"} {
		if err := o.Push([]byte(s)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	select {
	case <-o.Ready():
	default:
		t.Fatalf("expected ready signal")
	}
	got := o.Drain()
	if len(got) != 3 || string(got[0]) != "a" || string(got[1]) != "b" || string(got[2]) != "c" {
		t.Fatalf("unexpected drain: %q", got)
	}
	if o.Len() != 0 {
		t.Fatalf("expected empty outbox")
	}
}

func TestOutboxClose(t *testing.T) {
	testlog.Start(t)
	o := NewOutbox()
	_ = o.Push([]byte("a"))
	o.Close()
	if o.Len() != 0 {
		t.Fatalf("close should discard pending lines")
	}
	if err := o.Push([]byte("b")); !errors.Is(err, ErrOutboxClosed) {
		t.Fatalf("expected ErrOutboxClosed, got %v", err)
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	testlog.Start(t)
	cfg := Config{ReadTimeout: 5 * time.Second}.WithDefaults()
	if cfg.ServicePort != DefaultServicePort {
		t.Fatalf("unexpected service port %d", cfg.ServicePort)
	}
	if cfg.DeadConnectionTimeout != 15*time.Minute || cfg.ReapInterval != 30*time.Second {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Fatalf("read timeout overwritten: %v", cfg.ReadTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.ServicePort = 70000
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
