package torproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/onionchat/internal/observability"
	"github.com/danmuck/onionchat/internal/onion"
	"github.com/danmuck/onionchat/internal/tools"
	"github.com/rs/zerolog/log"
)

var (
	ErrStartup      = errors.New("torproc: startup failed")
	ErrNoHostname   = errors.New("torproc: hostname not found")
	ErrNotSupported = errors.New("torproc: no launch command")
)

// StarterScript is preferred over Command when present in Dir.
const StarterScript = "tor.sh"

// Config drives one Supervisor.
type Config struct {
	Enabled          bool
	External         Profile
	Portable         Profile
	Dir              string
	Command          string
	Args             []string
	HostnameFile     string // relative to Dir
	HostnameRetries  int
	HostnameInterval time.Duration
	HealthInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		External: Profile{
			Name:        ProfileExternal,
			Address:     "127.0.0.1",
			SocksPort:   9050,
			ControlPort: 9051,
		},
		Portable: Profile{
			Name:        ProfilePortable,
			Address:     "127.0.0.1",
			SocksPort:   11109,
			ControlPort: 11119,
		},
		Dir:              "Tor",
		Command:          "tor",
		Args:             []string{"-f", "torrc.txt"},
		HostnameFile:     filepath.Join("hidden_service", "hostname"),
		HostnameRetries:  10,
		HostnameInterval: time.Second,
		HealthInterval:   10 * time.Second,
	}
}

// Supervisor owns the portable proxy process and the active profile.
type Supervisor struct {
	cfg      Config
	launcher tools.Launcher
	onChange func(Profile)

	mu           sync.RWMutex
	proc         tools.Process
	profile      Profile
	localAddress string
	generation   uint64
	stopped      bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Supervisor)

// WithProfileHook registers f to run after every profile switch.
func WithProfileHook(f func(Profile)) Option {
	return func(s *Supervisor) {
		s.onChange = f
	}
}

func NewSupervisor(cfg Config, launcher tools.Launcher, opts ...Option) *Supervisor {
	if launcher == nil {
		launcher = tools.ExecLauncher{}
	}
	if cfg.HostnameFile == "" {
		cfg.HostnameFile = DefaultConfig().HostnameFile
	}
	if cfg.HostnameInterval <= 0 {
		cfg.HostnameInterval = DefaultConfig().HostnameInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultConfig().HealthInterval
	}
	cfg.External.Name = ProfileExternal
	cfg.Portable.Name = ProfilePortable
	s := &Supervisor{
		cfg:      cfg,
		launcher: launcher,
		profile:  cfg.External,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the startup sequence once and then the health loop. A startup
// failure is returned wrapped in ErrStartup and leaves the supervisor on the
// external profile; the health loop keeps relaunching or re-reading the
// hostname until the portable profile is reached.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		log.Info().Str("profile", s.Profile().Name).Msg("torproc.Supervisor.Start portable proxy disabled")
		return nil
	}
	err := s.startup(ctx)
	if err != nil {
		s.degrade()
		log.Warn().Err(err).Str("profile", s.Profile().Name).
			Msg("torproc.Supervisor.Start degraded, using external proxy")
	}
	s.wg.Add(1)
	go s.healthLoop(ctx)
	return err
}

func (s *Supervisor) startup(ctx context.Context) error {
	spec, err := s.processSpec()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStartup, err)
	}
	proc, err := s.launcher.Launch(spec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStartup, err)
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = proc.Stop()
		return fmt.Errorf("%w: supervisor stopped", ErrStartup)
	}
	s.proc = proc
	s.generation++
	gen := s.generation
	s.mu.Unlock()
	observability.SetProxyUp(true)
	log.Info().Int("pid", proc.Pid()).Uint64("generation", gen).Str("command", spec.Name).
		Msg("torproc.Supervisor.startup launched")

	// a slow bootstrap keeps its process; the health loop picks the hostname up later
	address, err := s.awaitHostname(ctx, proc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStartup, err)
	}
	s.promote(address)
	return nil
}

// promote records the published address and switches to the portable profile.
func (s *Supervisor) promote(address string) {
	s.mu.Lock()
	s.localAddress = address
	changed := s.profile.Name != ProfilePortable
	s.profile = s.cfg.Portable
	s.mu.Unlock()
	log.Info().Str("hostname", address).Msg("torproc.Supervisor switched to portable profile")
	if changed && s.onChange != nil {
		s.onChange(s.cfg.Portable)
	}
}

// degrade switches back to the external profile.
func (s *Supervisor) degrade() {
	s.mu.Lock()
	changed := s.profile.Name != ProfileExternal
	s.profile = s.cfg.External
	s.mu.Unlock()
	if changed && s.onChange != nil {
		s.onChange(s.cfg.External)
	}
}

func (s *Supervisor) processSpec() (tools.ProcessSpec, error) {
	dir := s.cfg.Dir
	if script := filepath.Join(dir, StarterScript); fileExists(script) {
		if err := os.Chmod(script, 0o700); err != nil {
			log.Warn().Err(err).Str("script", script).Msg("torproc.Supervisor chmod starter script")
		}
		return tools.ProcessSpec{Name: "./" + StarterScript, Dir: dir}, nil
	}
	if strings.TrimSpace(s.cfg.Command) == "" {
		return tools.ProcessSpec{}, ErrNotSupported
	}
	args := append([]string(nil), s.cfg.Args...)
	return tools.ProcessSpec{Name: s.cfg.Command, Args: args, Dir: dir}, nil
}

// awaitHostname polls the hostname file up to HostnameRetries times.
func (s *Supervisor) awaitHostname(ctx context.Context, proc tools.Process) (string, error) {
	path := filepath.Join(s.cfg.Dir, s.cfg.HostnameFile)
	retries := s.cfg.HostnameRetries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 1; attempt <= retries; attempt++ {
		address, err := readHostname(path)
		if err == nil {
			return address, nil
		}
		log.Debug().Int("attempt", attempt).Int("retries", retries).Err(err).
			Msg("torproc.Supervisor.awaitHostname")
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.stop:
			return "", errors.New("stopped")
		case <-proc.Done():
			return "", fmt.Errorf("process exited: %v", proc.Err())
		case <-time.After(s.cfg.HostnameInterval):
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoHostname, path)
}

func readHostname(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	address := onion.Normalize(string(raw))
	if err := onion.Check(address); err != nil {
		return "", err
	}
	return address, nil
}

func (s *Supervisor) healthLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
		}
		if s.Running() {
			if s.Profile().Name != ProfilePortable {
				s.recheckHostname()
			}
			continue
		}
		observability.SetProxyUp(false)
		observability.RecordProxyRestart()
		log.Warn().Uint64("generation", s.Generation()).Msg("torproc.Supervisor.healthLoop proxy exited, restarting")
		if err := s.startup(ctx); err != nil {
			s.degrade()
			log.Warn().Err(err).Msg("torproc.Supervisor.healthLoop restart failed")
		}
	}
}

// recheckHostname promotes a running process whose hostname appeared after
// the startup retries ran out.
func (s *Supervisor) recheckHostname() {
	path := filepath.Join(s.cfg.Dir, s.cfg.HostnameFile)
	address, err := readHostname(path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("torproc.Supervisor.recheckHostname")
		return
	}
	s.promote(address)
}

// Running reports whether the current process handle is alive.
func (s *Supervisor) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proc != nil && !s.proc.Exited()
}

func (s *Supervisor) Profile() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// ProxyAddr is the SOCKS endpoint of the active profile.
func (s *Supervisor) ProxyAddr() string {
	return s.Profile().SocksAddr()
}

// LocalAddress is the onion id read from the hostname file, or "".
func (s *Supervisor) LocalAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localAddress
}

// Generation counts process launches.
func (s *Supervisor) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Stop ends the health loop and terminates the process.
func (s *Supervisor) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
	s.mu.Lock()
	s.stopped = true
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return nil
	}
	log.Info().Int("pid", proc.Pid()).Msg("torproc.Supervisor.Stop terminating")
	err := proc.Stop()
	observability.SetProxyUp(false)
	return err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
