package cqldrv

import (
	"context"
	"crypto/tls"
	"net"
)

// Conn is the bidirectional byte stream the core consumes; a plain
// *net.TCPConn and a *tls.Conn both satisfy it unmodified since both
// embed net.Conn. The core never assumes a specific implementation.
type Conn = net.Conn

// Dialer opens a Conn to addr. DialTCP and NewTLSDialer are the two
// implementations this driver ships; TLS transport is configured via
// ClusterConfig's TLSConfig rather than a caller reimplementing this
// interface directly.
type Dialer func(ctx context.Context, network, addr string) (Conn, error)

// DialTCP is the plain-TCP Dialer.
func DialTCP(ctx context.Context, network, addr string) (Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// NewTLSDialer returns a Dialer that performs a TCP dial followed by a TLS
// handshake using cfg.
func NewTLSDialer(cfg *tls.Config) Dialer {
	return func(ctx context.Context, network, addr string) (Conn, error) {
		var d net.Dialer
		raw, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		tlsConn := tls.Client(raw, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, err
		}
		return tlsConn, nil
	}
}
