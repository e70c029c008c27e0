package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/onionchat/internal/onion"
	"github.com/rs/zerolog/log"
)

// Duration is a time.Duration that reads and writes TOML strings like "15m".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) D() time.Duration {
	return time.Duration(d)
}

type TorSection struct {
	Address     string `toml:"address"`
	SocksPort   int    `toml:"socks_port"`
	ControlPort int    `toml:"control_port"`
}

type PortableSection struct {
	Enabled          bool     `toml:"enabled"`
	Address          string   `toml:"address"`
	SocksPort        int      `toml:"socks_port"`
	ControlPort      int      `toml:"control_port"`
	Dir              string   `toml:"dir"`
	Command          string   `toml:"command"`
	Args             []string `toml:"args"`
	HostnameFile     string   `toml:"hostname_file"`
	HostnameRetries  int      `toml:"hostname_retries"`
	HostnameInterval Duration `toml:"hostname_interval"`
	HealthInterval   Duration `toml:"health_interval"`
}

type ClientSection struct {
	Hostname              string   `toml:"hostname"`
	ListenInterface       string   `toml:"listen_interface"`
	ListenPort            int      `toml:"listen_port"`
	ServicePort           int      `toml:"service_port"`
	DeadConnectionTimeout Duration `toml:"dead_connection_timeout"`
	ReapInterval          Duration `toml:"reap_interval"`
	ConnectTimeout        Duration `toml:"connect_timeout"`
	ReadTimeout           Duration `toml:"read_timeout"`
	Reconnect             bool     `toml:"reconnect"`
}

type ProfileSection struct {
	Name string `toml:"name"`
	Text string `toml:"text"`
}

type StatusSection struct {
	Addr        string   `toml:"addr"`
	Token       string   `toml:"token"`
	CorsOrigins []string `toml:"cors_origins"`
}

type BuddyEntry struct {
	Address string `toml:"address"`
	Name    string `toml:"name"`
	Group   string `toml:"group,omitempty"`
}

// Config is the onionchat.toml snapshot consumed by the daemon.
type Config struct {
	Tor         TorSection      `toml:"tor"`
	TorPortable PortableSection `toml:"tor_portable"`
	Client      ClientSection   `toml:"client"`
	Profile     ProfileSection  `toml:"profile"`
	Status      StatusSection   `toml:"status"`
	Buddies     []BuddyEntry    `toml:"buddies"`
}

func Default() Config {
	return Config{
		Tor: TorSection{
			Address:     "127.0.0.1",
			SocksPort:   9050,
			ControlPort: 9051,
		},
		TorPortable: PortableSection{
			Enabled:          false,
			Address:          "127.0.0.1",
			SocksPort:        11109,
			ControlPort:      11119,
			Dir:              "Tor",
			Command:          "tor",
			Args:             []string{"-f", "torrc.txt"},
			HostnameFile:     "hidden_service/hostname",
			HostnameRetries:  10,
			HostnameInterval: Duration(time.Second),
			HealthInterval:   Duration(10 * time.Second),
		},
		Client: ClientSection{
			ListenInterface:       "127.0.0.1",
			ListenPort:            11009,
			ServicePort:           11009,
			DeadConnectionTimeout: Duration(15 * time.Minute),
			ReapInterval:          Duration(30 * time.Second),
			ConnectTimeout:        Duration(60 * time.Second),
			Reconnect:             true,
		},
		Status: StatusSection{
			CorsOrigins: []string{},
		},
		Buddies: []BuddyEntry{},
	}
}

// Load reads path over Default. Keys absent from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		log.Warn().Str("path", path).Str("key", key.String()).Msg("config.Load unknown key ignored")
	}
	if !meta.IsDefined("tor_portable", "args") && meta.IsDefined("tor_portable", "command") {
		// a custom command does not inherit the default tor arguments
		cfg.TorPortable.Args = nil
	}
	cfg.Client.Hostname = onion.Normalize(cfg.Client.Hostname)
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Tor.Address) == "" {
		return fmt.Errorf("tor.address is required")
	}
	if !validPort(cfg.Tor.SocksPort) {
		return fmt.Errorf("tor.socks_port %d out of range", cfg.Tor.SocksPort)
	}
	if cfg.TorPortable.Enabled {
		if strings.TrimSpace(cfg.TorPortable.Dir) == "" {
			return fmt.Errorf("tor_portable.dir is required when enabled")
		}
		if !validPort(cfg.TorPortable.SocksPort) {
			return fmt.Errorf("tor_portable.socks_port %d out of range", cfg.TorPortable.SocksPort)
		}
		if cfg.TorPortable.HostnameRetries <= 0 {
			return fmt.Errorf("tor_portable.hostname_retries must be positive")
		}
	}
	if cfg.Client.Hostname != "" {
		if err := onion.Check(cfg.Client.Hostname); err != nil {
			return fmt.Errorf("client.hostname: %w", err)
		}
	}
	if net.ParseIP(strings.TrimSpace(cfg.Client.ListenInterface)) == nil {
		return fmt.Errorf("client.listen_interface %q is not an IP address", cfg.Client.ListenInterface)
	}
	if !validPort(cfg.Client.ListenPort) {
		return fmt.Errorf("client.listen_port %d out of range", cfg.Client.ListenPort)
	}
	if !validPort(cfg.Client.ServicePort) {
		return fmt.Errorf("client.service_port %d out of range", cfg.Client.ServicePort)
	}
	if cfg.Client.DeadConnectionTimeout <= 0 || cfg.Client.ReapInterval <= 0 {
		return fmt.Errorf("client.dead_connection_timeout and client.reap_interval must be positive")
	}
	if cfg.Client.ReadTimeout < 0 {
		return fmt.Errorf("client.read_timeout must not be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Buddies))
	for i, entry := range cfg.Buddies {
		address := onion.Normalize(entry.Address)
		if err := onion.Check(address); err != nil {
			return fmt.Errorf("buddies[%d]: %w", i, err)
		}
		if _, ok := seen[address]; ok {
			return fmt.Errorf("buddies[%d]: duplicate address %s", i, address)
		}
		seen[address] = struct{}{}
	}
	return nil
}
