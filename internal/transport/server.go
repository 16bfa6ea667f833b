package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"kvserver/internal/capacity"
	"kvserver/internal/metrics"
)

// Handler serves one substream to completion.
type Handler func(ctx context.Context, stream Substream)

// Server runs the accept loop: one goroutine per connection, one per
// substream, each substream admitted through the capacity limiter and
// handed to the handler.
type Server struct {
	listener Listener
	handler  Handler
	limiter  *capacity.Limiter
	metrics  *metrics.Registry
	logger   *zap.Logger

	wg sync.WaitGroup
}

func NewServer(listener Listener, handler Handler, limiter *capacity.Limiter, m *metrics.Registry, logger *zap.Logger) *Server {
	return &Server{
		listener: listener,
		handler:  handler,
		limiter:  limiter,
		metrics:  m,
		logger:   logger,
	}
}

// Serve accepts connections until ctx is cancelled or the listener fails.
// It returns after every connection and substream goroutine has finished.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock Accept when ctx ends.
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	var retErr error
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if s.metrics != nil {
				s.metrics.Commands.AcceptErrors.Inc()
			}
			s.logger.Error("accept error", zap.Error(err))
			retErr = err
			break
		}

		if s.metrics != nil {
			s.metrics.Connections.ActiveConnections.Inc()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConnection(ctx, conn)
			if s.metrics != nil {
				s.metrics.Connections.ActiveConnections.Dec()
			}
		}()
	}

	cancel()
	s.wg.Wait()
	return retErr
}

func (s *Server) serveConnection(ctx context.Context, conn Connection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	for {
		stream, err := conn.AcceptSubstream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}

		if s.limiter != nil && !s.limiter.Acquire() {
			if s.metrics != nil {
				s.metrics.Commands.AcceptErrors.Inc()
			}
			s.logger.Warn("substream rejected at capacity")
			stream.Close()
			continue
		}

		if s.metrics != nil {
			s.metrics.Connections.ActiveSubstreams.Inc()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler(ctx, stream)
			if s.limiter != nil {
				s.limiter.Release()
			}
			if s.metrics != nil {
				s.metrics.Connections.ActiveSubstreams.Dec()
			}
		}()
	}
}

// NewListener constructs the Listener for the configured protocol.
func NewListener(protocol, addr, certFile, keyFile string) (Listener, error) {
	switch protocol {
	case "tls":
		return NewTLSListener(addr, certFile, keyFile)
	case "noise":
		return NewNoiseListener(addr)
	case "quic":
		return NewQUICListener(addr, certFile, keyFile)
	default:
		return nil, errors.New("transport: unknown protocol " + protocol)
	}
}

// Dial connects to a server over the named protocol.
func Dial(ctx context.Context, protocol, addr string, insecure bool) (ClientConnection, error) {
	switch protocol {
	case "tls":
		return DialTLS(ctx, addr, insecure)
	case "noise":
		return DialNoise(ctx, addr)
	case "quic":
		return DialQUIC(ctx, addr, insecure)
	default:
		return nil, errors.New("transport: unknown protocol " + protocol)
	}
}
