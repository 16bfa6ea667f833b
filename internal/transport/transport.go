// Package transport turns encrypted, multiplexed physical connections into
// the Substream abstraction internal/streamsvc consumes. Three concrete
// transports implement the same interfaces: TLS+yamux, Noise+yamux, and
// QUIC (whose streams are natively multiplexed, needing no yamux layer).
package transport

import (
	"context"
	"io"
)

// Substream is one logical, independently closable duplex stream
// multiplexed over a Connection.
type Substream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Connection is one physical, encrypted connection capable of yielding many
// Substreams.
type Connection interface {
	AcceptSubstream(ctx context.Context) (Substream, error)
	Close() error
}

// Listener accepts new Connections.
type Listener interface {
	Accept(ctx context.Context) (Connection, error)
	Close() error
	Addr() string
}

// ClientConnection is the dial-side counterpart of Connection: it opens
// substreams toward a server instead of accepting them.
type ClientConnection interface {
	OpenSubstream(ctx context.Context) (Substream, error)
	Close() error
}
