package streamsvc

import (
	"context"
	"net"
	"testing"
	"time"

	"kvserver/internal/broker"
	"kvserver/internal/dispatch"
	"kvserver/internal/frame"
	"kvserver/internal/storage"
	"kvserver/internal/wire"
)

type pipeSubstream struct {
	net.Conn
}

func TestRunHandlesOneRequestResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	d := dispatch.New(storage.NewMemory(), broker.New(0))
	svc := New(pipeSubstream{server}, d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	codec := frame.NewCodec()
	req := wire.CommandRequest{Kind: wire.CmdHset, Table: "t", Key: "k", Value: wire.IntValue(9)}
	encoded, err := codec.Encode(req.Marshal())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := client.Write(encoded); err != nil {
		t.Fatalf("write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	body, err := frame.Decode(client)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp, err := wire.UnmarshalCommandResponse(body)
	if err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != wire.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	if len(resp.Values) != 1 || resp.Values[0].Kind != wire.KindNone {
		t.Fatalf("hset must report a None prior, got %+v", resp.Values)
	}
}

func TestSubscribeStreamsWelcomeThenDeliveries(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	d := dispatch.New(storage.NewMemory(), broker.New(0))
	svc := New(pipeSubstream{server}, d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	codec := frame.NewCodec()
	req := wire.CommandRequest{Kind: wire.CmdSubscribe, Topic: "news"}
	encoded, _ := codec.Encode(req.Marshal())
	if _, err := client.Write(encoded); err != nil {
		t.Fatalf("write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	body, err := frame.Decode(client)
	if err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	welcome, err := wire.UnmarshalCommandResponse(body)
	if err != nil {
		t.Fatalf("unmarshal welcome: %v", err)
	}
	if welcome.Status != wire.StatusOK || len(welcome.Values) != 1 || welcome.Values[0].Kind != wire.KindInt {
		t.Fatalf("welcome must carry the id value, got %+v", welcome)
	}

	d.Broker.Publish("news", wire.CommandResponse{Status: wire.StatusOK, Values: []wire.Value{wire.StringValue("hi")}})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	body, err = frame.Decode(client)
	if err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	delivery, _ := wire.UnmarshalCommandResponse(body)
	if len(delivery.Values) != 1 || delivery.Values[0].Str != "hi" {
		t.Fatalf("unexpected delivery %+v", delivery)
	}

	// Dropping the substream must unregister the subscription.
	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("service did not exit after disconnect")
	}
	if d.Broker.TopicSubscriberCount("news") != 0 {
		t.Fatalf("expected subscription cleanup on disconnect")
	}
}
