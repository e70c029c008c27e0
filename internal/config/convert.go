package config

import (
	"net"
	"path/filepath"
	"strconv"

	"github.com/danmuck/onionchat/internal/buddy"
	"github.com/danmuck/onionchat/internal/protocol/session"
	"github.com/danmuck/onionchat/internal/torproc"
)

func (c Config) SessionConfig() session.Config {
	return session.Config{
		ServicePort:           c.Client.ServicePort,
		ConnectTimeout:        c.Client.ConnectTimeout.D(),
		ReadTimeout:           c.Client.ReadTimeout.D(),
		DeadConnectionTimeout: c.Client.DeadConnectionTimeout.D(),
		ReapInterval:          c.Client.ReapInterval.D(),
	}.WithDefaults()
}

func (c Config) ListConfig() buddy.Config {
	return buddy.Config{
		Hostname:    c.Client.Hostname,
		ListenAddr:  net.JoinHostPort(c.Client.ListenInterface, strconv.Itoa(c.Client.ListenPort)),
		Session:     c.SessionConfig(),
		Reconnect:   c.Client.Reconnect,
		ProfileName: c.Profile.Name,
		ProfileText: c.Profile.Text,
	}
}

func (c Config) TorConfig() torproc.Config {
	return torproc.Config{
		Enabled: c.TorPortable.Enabled,
		External: torproc.Profile{
			Name:        torproc.ProfileExternal,
			Address:     c.Tor.Address,
			SocksPort:   c.Tor.SocksPort,
			ControlPort: c.Tor.ControlPort,
		},
		Portable: torproc.Profile{
			Name:        torproc.ProfilePortable,
			Address:     c.TorPortable.Address,
			SocksPort:   c.TorPortable.SocksPort,
			ControlPort: c.TorPortable.ControlPort,
		},
		Dir:              c.TorPortable.Dir,
		Command:          c.TorPortable.Command,
		Args:             append([]string(nil), c.TorPortable.Args...),
		HostnameFile:     filepath.FromSlash(c.TorPortable.HostnameFile),
		HostnameRetries:  c.TorPortable.HostnameRetries,
		HostnameInterval: c.TorPortable.HostnameInterval.D(),
		HealthInterval:   c.TorPortable.HealthInterval.D(),
	}
}
