package torproc

import (
	"net"
	"strconv"
)

const (
	ProfileExternal = "tor"
	ProfilePortable = "tor_portable"
)

// Profile is one set of proxy endpoints.
type Profile struct {
	Name        string
	Address     string
	SocksPort   int
	ControlPort int
}

func (p Profile) SocksAddr() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.SocksPort))
}

// Static is a fixed profile source used when no portable process is managed.
type Static Profile

func (s Static) Profile() Profile {
	return Profile(s)
}

func (s Static) ProxyAddr() string {
	return Profile(s).SocksAddr()
}
