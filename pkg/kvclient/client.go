// Package kvclient is the Go client for the key-value service: one
// encrypted multiplexed connection per Client, one substream per request,
// and a streamed subscription API for pub/sub topics.
package kvclient

import (
	"context"
	"fmt"
	"sync"

	"kvserver/internal/frame"
	"kvserver/internal/transport"
	"kvserver/internal/wire"
)

// Options configures a Client.
type Options struct {
	// Protocol is one of tls, noise, quic.
	Protocol string
	Addr     string
	// Insecure skips TLS certificate verification (required against servers
	// running on ephemeral self-signed certificates).
	Insecure bool
	// Algorithm selects the compression algorithm for large request bodies:
	// gzip, lz4, or zstd. Empty selects gzip.
	Algorithm string
}

// StatusError is a non-2xx response surfaced as an error.
type StatusError struct {
	Status  uint16
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kvclient: status %d: %s", e.Status, e.Message)
}

// Client issues commands over one multiplexed connection. It is safe for
// concurrent use; each request travels on its own substream.
type Client struct {
	opts  Options
	codec *frame.Codec

	mu   sync.Mutex
	conn transport.ClientConnection
}

// Dial connects to the server described by opts.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	algo, err := frame.ParseAlgo(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	conn, err := transport.Dial(ctx, opts.Protocol, opts.Addr, opts.Insecure)
	if err != nil {
		return nil, err
	}
	codec := frame.NewCodec()
	codec.Algorithm = algo
	return &Client{opts: opts, codec: codec, conn: conn}, nil
}

// Close tears down the connection; in-flight substreams are terminated.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// openSubstream opens a fresh substream, redialing the connection once if
// the multiplexer has died underneath us.
func (c *Client) openSubstream(ctx context.Context) (transport.Substream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("kvclient: client is closed")
	}
	stream, err := c.conn.OpenSubstream(ctx)
	if err == nil {
		return stream, nil
	}

	conn, derr := transport.Dial(ctx, c.opts.Protocol, c.opts.Addr, c.opts.Insecure)
	if derr != nil {
		return nil, fmt.Errorf("kvclient: open substream: %w (redial: %v)", err, derr)
	}
	c.conn.Close()
	c.conn = conn
	return c.conn.OpenSubstream(ctx)
}

// call performs one request/one response on a fresh substream.
func (c *Client) call(ctx context.Context, req wire.CommandRequest) (wire.CommandResponse, error) {
	stream, err := c.openSubstream(ctx)
	if err != nil {
		return wire.CommandResponse{}, err
	}
	defer stream.Close()

	if err := writeRequest(c.codec, stream, req); err != nil {
		return wire.CommandResponse{}, err
	}
	resp, err := readResponse(stream)
	if err != nil {
		return wire.CommandResponse{}, err
	}
	if resp.Status >= 300 {
		return resp, &StatusError{Status: resp.Status, Message: resp.Message}
	}
	return resp, nil
}

func writeRequest(codec *frame.Codec, stream transport.Substream, req wire.CommandRequest) error {
	encoded, err := codec.Encode(req.Marshal())
	if err != nil {
		return err
	}
	_, err = stream.Write(encoded)
	return err
}

func readResponse(stream transport.Substream) (wire.CommandResponse, error) {
	body, err := frame.Decode(stream)
	if err != nil {
		return wire.CommandResponse{}, err
	}
	return wire.UnmarshalCommandResponse(body)
}

// Hget fetches one value; a missing key yields the None variant.
func (c *Client) Hget(ctx context.Context, table, key string) (wire.Value, error) {
	resp, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdHget, Table: table, Key: key})
	if err != nil {
		return wire.Value{}, err
	}
	return singleValue(resp)
}

// Hgetall fetches a snapshot of every pair in table.
func (c *Client) Hgetall(ctx context.Context, table string) ([]wire.Kvpair, error) {
	resp, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdHgetall, Table: table})
	if err != nil {
		return nil, err
	}
	return resp.Pairs, nil
}

// Hmget fetches values for keys in order; misses are None.
func (c *Client) Hmget(ctx context.Context, table string, keys []string) ([]wire.Value, error) {
	resp, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdHmget, Table: table, Keys: keys})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// Hset stores value under (table, key) and returns the prior value, None
// when the key is new.
func (c *Client) Hset(ctx context.Context, table, key string, value wire.Value) (wire.Value, error) {
	resp, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdHset, Table: table, Key: key, Value: value})
	if err != nil {
		return wire.Value{}, err
	}
	return singleValue(resp)
}

// Hmset stores pairs and returns the prior value of each, in order.
func (c *Client) Hmset(ctx context.Context, table string, pairs []wire.Kvpair) ([]wire.Value, error) {
	resp, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdHmset, Table: table, Pairs: pairs})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// Hdel removes a key and returns its prior value, None when absent.
func (c *Client) Hdel(ctx context.Context, table, key string) (wire.Value, error) {
	resp, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdHdel, Table: table, Key: key})
	if err != nil {
		return wire.Value{}, err
	}
	return singleValue(resp)
}

// Hmdel removes keys and returns their prior values, in order.
func (c *Client) Hmdel(ctx context.Context, table string, keys []string) ([]wire.Value, error) {
	resp, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdHmdel, Table: table, Keys: keys})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// Hexist reports whether (table, key) holds a value.
func (c *Client) Hexist(ctx context.Context, table, key string) (bool, error) {
	resp, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdHexist, Table: table, Key: key})
	if err != nil {
		return false, err
	}
	v, err := singleValue(resp)
	if err != nil {
		return false, err
	}
	return v.Bool, nil
}

// Hmexist reports existence for each key, in order.
func (c *Client) Hmexist(ctx context.Context, table string, keys []string) ([]bool, error) {
	resp, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdHmexist, Table: table, Keys: keys})
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(resp.Values))
	for i, v := range resp.Values {
		out[i] = v.Bool
	}
	return out, nil
}

// Publish delivers values to every current subscriber of topic.
func (c *Client) Publish(ctx context.Context, topic string, values []wire.Value) error {
	_, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdPublish, Topic: topic, Values: values})
	return err
}

// Unsubscribe tears down the identified subscription. Unknown (topic, id)
// pairs surface as a StatusError with status 404.
func (c *Client) Unsubscribe(ctx context.Context, topic string, id uint32) error {
	_, err := c.call(ctx, wire.CommandRequest{Kind: wire.CmdUnsubscribe, Topic: topic, SubscriptionID: id})
	return err
}

func singleValue(resp wire.CommandResponse) (wire.Value, error) {
	if len(resp.Values) != 1 {
		return wire.Value{}, fmt.Errorf("kvclient: expected one value, got %d", len(resp.Values))
	}
	return resp.Values[0], nil
}
