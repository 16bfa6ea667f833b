package transport

import (
	"context"
	"io"
	"testing"
	"time"
)

// echoServe accepts connections and echoes every substream on each of them
// until the context ends.
func echoServe(t *testing.T, ctx context.Context, l Listener) {
	t.Helper()
	go func() {
		for {
			conn, err := l.Accept(ctx)
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				for {
					stream, err := conn.AcceptSubstream(ctx)
					if err != nil {
						return
					}
					go func() {
						defer stream.Close()
						buf := make([]byte, 1024)
						for {
							n, err := stream.Read(buf)
							if n > 0 {
								if _, werr := stream.Write(buf[:n]); werr != nil {
									return
								}
							}
							if err != nil {
								return
							}
						}
					}()
				}
			}()
		}
	}()
}

func roundTrip(t *testing.T, ctx context.Context, conn ClientConnection) {
	t.Helper()
	stream, err := conn.OpenSubstream(ctx)
	if err != nil {
		t.Fatalf("open substream: %v", err)
	}
	defer stream.Close()

	payload := []byte("ping over an encrypted substream")
	if _, err := stream.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(stream, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("echo mismatch: %q", got)
	}
}

func TestTLSTransportEcho(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l, err := NewTLSListener("127.0.0.1:0", "", "")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	echoServe(t, ctx, l)

	conn, err := DialTLS(ctx, l.Addr(), true)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	roundTrip(t, ctx, conn)
}

func TestNoiseTransportEcho(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l, err := NewNoiseListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	echoServe(t, ctx, l)

	conn, err := DialNoise(ctx, l.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	roundTrip(t, ctx, conn)
}

func TestQUICTransportEcho(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l, err := NewQUICListener("127.0.0.1:0", "", "")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	echoServe(t, ctx, l)

	conn, err := DialQUIC(ctx, l.Addr(), true)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	roundTrip(t, ctx, conn)
}

func TestMultipleSubstreamsOnOneConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l, err := NewTLSListener("127.0.0.1:0", "", "")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	echoServe(t, ctx, l)

	conn, err := DialTLS(ctx, l.Addr(), true)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 5; i++ {
		roundTrip(t, ctx, conn)
	}
}
