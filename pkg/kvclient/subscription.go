package kvclient

import (
	"context"

	"kvserver/internal/transport"
	"kvserver/internal/wire"
)

// Subscription is a live pub/sub stream. Its substream stays open until
// Close or a server-side unsubscribe ends it.
type Subscription struct {
	// ID identifies this subscription for Unsubscribe.
	ID     uint32
	Topic  string
	stream transport.Substream
}

// Subscribe opens a dedicated substream for topic. The server's welcome
// response is consumed here; the returned Subscription's first Recv yields
// the first published message.
func (c *Client) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	stream, err := c.openSubstream(ctx)
	if err != nil {
		return nil, err
	}

	req := wire.CommandRequest{Kind: wire.CmdSubscribe, Topic: topic}
	if err := writeRequest(c.codec, stream, req); err != nil {
		stream.Close()
		return nil, err
	}

	welcome, err := readResponse(stream)
	if err != nil {
		stream.Close()
		return nil, err
	}
	if welcome.Status >= 300 {
		stream.Close()
		return nil, &StatusError{Status: welcome.Status, Message: welcome.Message}
	}

	id := welcome.SubscriptionID
	if id == 0 && len(welcome.Values) == 1 && welcome.Values[0].Kind == wire.KindInt {
		id = uint32(welcome.Values[0].Int)
	}
	return &Subscription{ID: id, Topic: topic, stream: stream}, nil
}

// Recv blocks until the next published message arrives or the stream ends.
// After an unsubscribe or server shutdown it returns an error and the
// subscription is dead.
func (s *Subscription) Recv() (wire.CommandResponse, error) {
	return readResponse(s.stream)
}

// Close drops the subscription's substream. The server observes the
// disconnect and unregisters the subscription.
func (s *Subscription) Close() error {
	return s.stream.Close()
}
