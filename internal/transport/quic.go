package transport

import (
	"context"
	"crypto/tls"

	"github.com/quic-go/quic-go"
)

// quicListener exposes QUIC's natively multiplexed connections through the
// same Listener/Connection pair as the yamux-based transports.
type quicListener struct {
	ln *quic.Listener
}

// NewQUICListener listens on the given UDP addr; empty certificate paths
// select an ephemeral self-signed certificate.
func NewQUICListener(addr, certFile, keyFile string) (Listener, error) {
	cfg, err := serverTLSConfig(certFile, keyFile, alpnProto)
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, cfg, nil)
	if err != nil {
		return nil, err
	}
	return &quicListener{ln: ln}, nil
}

func (l *quicListener) Accept(ctx context.Context) (Connection, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &quicConn{conn: conn}, nil
}

func (l *quicListener) Close() error { return l.ln.Close() }
func (l *quicListener) Addr() string { return l.ln.Addr().String() }

type quicConn struct {
	conn quic.Connection
}

func (c *quicConn) AcceptSubstream(ctx context.Context) (Substream, error) {
	return c.conn.AcceptStream(ctx)
}

func (c *quicConn) Close() error {
	return c.conn.CloseWithError(0, "shutdown")
}

// DialQUIC connects to a QUIC transport server.
func DialQUIC(ctx context.Context, addr string, insecure bool) (ClientConnection, error) {
	conn, err := quic.DialAddr(ctx, addr, &tls.Config{
		InsecureSkipVerify: insecure,
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{alpnProto},
	}, nil)
	if err != nil {
		return nil, err
	}
	return &quicClientConn{conn: conn}, nil
}

type quicClientConn struct {
	conn quic.Connection
}

func (c *quicClientConn) OpenSubstream(ctx context.Context) (Substream, error) {
	return c.conn.OpenStreamSync(ctx)
}

func (c *quicClientConn) Close() error {
	return c.conn.CloseWithError(0, "client shutdown")
}
