package transport

import (
	"context"
	"crypto/tls"
	"net"
)

const alpnProto = "kv/1"

// tlsListener accepts TLS connections and multiplexes each into substreams
// with yamux.
type tlsListener struct {
	ln net.Listener
}

// NewTLSListener listens on addr with the given certificate files; empty
// paths select an ephemeral self-signed certificate.
func NewTLSListener(addr, certFile, keyFile string) (Listener, error) {
	cfg, err := serverTLSConfig(certFile, keyFile, alpnProto)
	if err != nil {
		return nil, err
	}
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	return &tlsListener{ln: ln}, nil
}

func (l *tlsListener) Accept(ctx context.Context) (Connection, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	mux, err := newYamuxServerConn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return mux, nil
}

func (l *tlsListener) Close() error { return l.ln.Close() }
func (l *tlsListener) Addr() string { return l.ln.Addr().String() }

// DialTLS connects to a TLS transport server. insecure skips certificate
// chain verification, which is required against a server running on an
// ephemeral self-signed certificate.
func DialTLS(ctx context.Context, addr string, insecure bool) (ClientConnection, error) {
	d := &tls.Dialer{Config: &tls.Config{
		InsecureSkipVerify: insecure,
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{alpnProto},
	}}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	mux, err := newYamuxClientConn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return mux, nil
}
