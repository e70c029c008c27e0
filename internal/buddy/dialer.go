package buddy

import (
	"context"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer opens outbound peer sockets.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// ProxySource yields the SOCKS endpoint of the active connectivity profile.
type ProxySource interface {
	ProxyAddr() string
}

// SOCKSDialer dials through the SOCKS5 proxy named by Source at dial time,
// so a profile switch applies to every later connection. Hostnames are
// passed to the proxy unresolved.
//
// The legacy client spoke SOCKS4a here. Tor's SocksPort accepts SOCKS4a and
// SOCKS5 on the same port, and SOCKS5 also carries the onion hostname to the
// proxy, so the wire behaviour towards Tor is unchanged.
type SOCKSDialer struct {
	Source  ProxySource
	Timeout time.Duration
}

func (d SOCKSDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	forward := &net.Dialer{Timeout: d.Timeout}
	px, err := proxy.SOCKS5("tcp", d.Source.ProxyAddr(), nil, forward)
	if err != nil {
		return nil, err
	}
	if cd, ok := px.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	return px.Dial(network, addr)
}
