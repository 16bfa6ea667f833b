package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/flynn/noise"
)

// The Noise transport runs an XX handshake over raw TCP, then carries
// length-prefixed encrypted records; the resulting authenticated byte
// stream is multiplexed with yamux exactly like the TLS transport.

var noiseCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// Each Noise record is at most 65535 bytes on the wire; the AEAD tag eats
// 16 of them.
const maxNoisePlaintext = 65535 - 16

type noiseListener struct {
	ln  net.Listener
	key noise.DHKey
}

// NewNoiseListener listens on addr with a fresh static keypair. The XX
// pattern transmits the static key during the handshake, so peers need no
// prior key distribution.
func NewNoiseListener(addr string) (Listener, error) {
	key, err := noiseCipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &noiseListener{ln: ln, key: key}, nil
}

func (l *noiseListener) Accept(ctx context.Context) (Connection, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	stream, err := noiseHandshake(conn, l.key, false)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("noise handshake: %w", err)
	}
	mux, err := newYamuxServerConn(stream)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return mux, nil
}

func (l *noiseListener) Close() error { return l.ln.Close() }
func (l *noiseListener) Addr() string { return l.ln.Addr().String() }

// DialNoise connects to a Noise transport server, generating an ephemeral
// static key for this client.
func DialNoise(ctx context.Context, addr string) (ClientConnection, error) {
	key, err := noiseCipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	stream, err := noiseHandshake(conn, key, true)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("noise handshake: %w", err)
	}
	mux, err := newYamuxClientConn(stream)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return mux, nil
}

// noiseHandshake drives the three XX messages and returns the encrypted
// record stream. The first CipherState of the final split encrypts
// initiator-to-responder traffic, the second the reverse direction.
func noiseHandshake(conn net.Conn, key noise.DHKey, initiator bool) (*noiseStream, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseCipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: key,
	})
	if err != nil {
		return nil, err
	}

	var toResponder, toInitiator *noise.CipherState
	if initiator {
		msg, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, err
		}
		if err := writeRecord(conn, msg); err != nil {
			return nil, err
		}

		reply, err := readRecord(conn)
		if err != nil {
			return nil, err
		}
		if _, _, _, err := hs.ReadMessage(nil, reply); err != nil {
			return nil, err
		}

		msg, toResponder, toInitiator, err = hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, err
		}
		if err := writeRecord(conn, msg); err != nil {
			return nil, err
		}
		return &noiseStream{conn: conn, send: toResponder, recv: toInitiator}, nil
	}

	first, err := readRecord(conn)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := hs.ReadMessage(nil, first); err != nil {
		return nil, err
	}

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeRecord(conn, msg); err != nil {
		return nil, err
	}

	last, err := readRecord(conn)
	if err != nil {
		return nil, err
	}
	if _, toResponder, toInitiator, err = hs.ReadMessage(nil, last); err != nil {
		return nil, err
	}
	return &noiseStream{conn: conn, send: toInitiator, recv: toResponder}, nil
}

// noiseStream is the post-handshake encrypted byte stream. yamux drives it
// from one read loop and one write loop, so each direction needs no
// additional locking.
type noiseStream struct {
	conn net.Conn
	send *noise.CipherState
	recv *noise.CipherState

	leftover []byte
}

func (s *noiseStream) Read(p []byte) (int, error) {
	if len(s.leftover) == 0 {
		record, err := readRecord(s.conn)
		if err != nil {
			return 0, err
		}
		plain, err := s.recv.Decrypt(nil, nil, record)
		if err != nil {
			return 0, err
		}
		s.leftover = plain
	}
	n := copy(p, s.leftover)
	s.leftover = s.leftover[n:]
	return n, nil
}

func (s *noiseStream) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxNoisePlaintext {
			chunk = chunk[:maxNoisePlaintext]
		}
		ct, err := s.send.Encrypt(nil, nil, chunk)
		if err != nil {
			return total, err
		}
		if err := writeRecord(s.conn, ct); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

func (s *noiseStream) Close() error { return s.conn.Close() }

func writeRecord(w io.Writer, msg []byte) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(msg)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

func readRecord(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	msg := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
