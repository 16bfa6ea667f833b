package transport

import (
	"context"
	"io"

	"github.com/hashicorp/yamux"
)

// yamuxConn adapts a server-side yamux session to the Connection interface.
// Both the TLS and Noise transports layer it over their encrypted byte
// stream; QUIC brings its own multiplexing and bypasses it.
type yamuxConn struct {
	session *yamux.Session
}

func newYamuxServerConn(rwc io.ReadWriteCloser) (*yamuxConn, error) {
	session, err := yamux.Server(rwc, nil)
	if err != nil {
		return nil, err
	}
	return &yamuxConn{session: session}, nil
}

func (c *yamuxConn) AcceptSubstream(ctx context.Context) (Substream, error) {
	return c.session.AcceptStreamWithContext(ctx)
}

func (c *yamuxConn) Close() error {
	return c.session.Close()
}

// yamuxClientConn adapts a client-side yamux session to ClientConnection.
type yamuxClientConn struct {
	session *yamux.Session
}

func newYamuxClientConn(rwc io.ReadWriteCloser) (*yamuxClientConn, error) {
	session, err := yamux.Client(rwc, nil)
	if err != nil {
		return nil, err
	}
	return &yamuxClientConn{session: session}, nil
}

func (c *yamuxClientConn) OpenSubstream(_ context.Context) (Substream, error) {
	return c.session.OpenStream()
}

func (c *yamuxClientConn) Close() error {
	return c.session.Close()
}
