// Package streamsvc owns one logical substream: it decodes frames, dispatches
// commands, encodes responses, and forwards queued pub/sub deliveries for
// any subscription opened on this stream.
package streamsvc

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"kvserver/internal/broker"
	"kvserver/internal/dispatch"
	"kvserver/internal/frame"
	"kvserver/internal/wire"
)

// Substream is the minimal transport contract a stream service needs: a
// bidirectional byte stream that can be closed independently of its peer
// connection.
type Substream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Service drives one substream to completion.
type Service struct {
	stream     Substream
	dispatcher *dispatch.Dispatcher
	codec      *frame.Codec
	logger     *zap.Logger

	// writeMu serializes frame writes between the request loop and the
	// forward goroutines of any subscriptions opened on this stream.
	writeMu sync.Mutex

	mu    sync.Mutex
	owned []*broker.Subscription
}

func New(stream Substream, d *dispatch.Dispatcher, logger *zap.Logger) *Service {
	return &Service{
		stream:     stream,
		dispatcher: d,
		codec:      frame.NewCodec(),
		logger:     logger,
	}
}

// WithCodec overrides the default frame codec, letting the server propagate
// its configured compression threshold and algorithm.
func (s *Service) WithCodec(c *frame.Codec) *Service {
	s.codec = c
	return s
}

// Run decodes requests until the stream closes or ctx is cancelled,
// dispatching each one and writing back its response(s). On return, every
// subscription this stream opened has been unsubscribed.
func (s *Service) Run(ctx context.Context) error {
	defer s.cleanup()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		body, err := frame.Decode(s.stream)
		if err != nil {
			if errors.Is(err, frame.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		req, err := wire.UnmarshalCommandRequest(body)
		if err != nil {
			if m := s.dispatcher.Metrics; m != nil {
				m.Commands.DecodeErrors.Inc()
			}
			if werr := s.writeResponse(wire.CommandResponse{Status: wire.StatusUnprocessableEntity, Message: err.Error()}); werr != nil {
				return werr
			}
			continue
		}

		resp, sub := s.dispatcher.Dispatch(ctx, req)
		if sub != nil {
			// Streaming command: the welcome response is already queued, so
			// everything this request produces flows through the forwarder.
			s.track(sub)
			go s.forward(ctx, sub)
			continue
		}

		if err := s.writeResponse(resp); err != nil {
			return err
		}
	}
}

// forward pumps queued broker deliveries for one subscription back down the
// same substream until the subscription's queue is closed (unsubscribe or
// broker shutdown) or ctx is cancelled. A closed queue closes the substream
// so the subscriber observes end-of-stream.
func (s *Service) forward(ctx context.Context, sub *broker.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-sub.Queue:
			if !ok {
				s.stream.Close()
				return
			}
			if err := s.writeResponse(resp); err != nil {
				return
			}
		}
	}
}

func (s *Service) writeResponse(resp wire.CommandResponse) error {
	encoded, err := s.codec.Encode(resp.Marshal())
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.stream.Write(encoded)
	return err
}

func (s *Service) track(sub *broker.Subscription) {
	s.mu.Lock()
	s.owned = append(s.owned, sub)
	s.mu.Unlock()
}

func (s *Service) cleanup() {
	s.mu.Lock()
	owned := s.owned
	s.owned = nil
	s.mu.Unlock()

	for _, sub := range owned {
		if s.dispatcher.Broker.Unsubscribe(sub.Topic, sub.ID) {
			if m := s.dispatcher.Metrics; m != nil {
				m.PubSub.ActiveSubscriptions.Dec()
			}
		}
	}

	if err := s.stream.Close(); err != nil && s.logger != nil {
		s.logger.Debug("substream close error", zap.Error(err))
	}
}
