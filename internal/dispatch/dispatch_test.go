package dispatch

import (
	"context"
	"testing"

	"kvserver/internal/broker"
	"kvserver/internal/storage"
	"kvserver/internal/wire"
)

func newTestDispatcher() *Dispatcher {
	return New(storage.NewMemory(), broker.New(0))
}

func TestHgetMissReturns200WithNoneValue(t *testing.T) {
	d := newTestDispatcher()
	resp, sub := d.Dispatch(context.Background(), wire.CommandRequest{Kind: wire.CmdHget, Table: "users", Key: "nope"})
	if sub != nil {
		t.Fatalf("hget must not return a subscription")
	}
	if resp.Status != wire.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	if len(resp.Values) != 1 || resp.Values[0].Kind != wire.KindNone {
		t.Fatalf("expected a single None value, got %+v", resp.Values)
	}
}

func TestHsetReturnsPriorThenHgetObservesWrite(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	resp, _ := d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdHset, Table: "users", Key: "a", Value: wire.IntValue(7)})
	if resp.Status != wire.StatusOK {
		t.Fatalf("hset: expected 200, got %d", resp.Status)
	}
	if len(resp.Values) != 1 || resp.Values[0].Kind != wire.KindNone {
		t.Fatalf("first hset must report a None prior, got %+v", resp.Values)
	}

	resp, _ = d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdHset, Table: "users", Key: "a", Value: wire.IntValue(8)})
	if resp.Values[0].Kind != wire.KindInt || resp.Values[0].Int != 7 {
		t.Fatalf("second hset must report the prior value 7, got %+v", resp.Values)
	}

	resp, _ = d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdHget, Table: "users", Key: "a"})
	if resp.Status != wire.StatusOK || resp.Values[0].Int != 8 {
		t.Fatalf("hget: unexpected response %+v", resp)
	}
}

func TestHgetallOnMissingTableReturnsEmpty(t *testing.T) {
	d := newTestDispatcher()
	resp, _ := d.Dispatch(context.Background(), wire.CommandRequest{Kind: wire.CmdHgetall, Table: "ghost"})
	if resp.Status != wire.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	if len(resp.Pairs) != 0 {
		t.Fatalf("expected no pairs, got %+v", resp.Pairs)
	}
}

func TestHmsetThenHmgetPreservesOrder(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	resp, _ := d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdHmset, Table: "t", Pairs: []wire.Kvpair{
		{Key: "a", Value: wire.IntValue(1)},
		{Key: "b", Value: wire.IntValue(2)},
	}})
	if resp.Status != wire.StatusOK || len(resp.Values) != 2 {
		t.Fatalf("hmset: unexpected response %+v", resp)
	}
	for i, v := range resp.Values {
		if v.Kind != wire.KindNone {
			t.Fatalf("hmset prior[%d] should be None, got %+v", i, v)
		}
	}

	resp, _ = d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdHmget, Table: "t", Keys: []string{"a", "x", "b"}})
	if len(resp.Values) != 3 {
		t.Fatalf("hmget: expected 3 values, got %d", len(resp.Values))
	}
	if resp.Values[0].Int != 1 || resp.Values[1].Kind != wire.KindNone || resp.Values[2].Int != 2 {
		t.Fatalf("hmget order not preserved: %+v", resp.Values)
	}
}

func TestHdelReturnsPriorValue(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()
	d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdHset, Table: "t", Key: "k", Value: wire.StringValue("v")})

	resp, _ := d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdHdel, Table: "t", Key: "k"})
	if resp.Values[0].Kind != wire.KindString || resp.Values[0].Str != "v" {
		t.Fatalf("expected first del to return prior value, got %+v", resp.Values)
	}

	resp, _ = d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdHdel, Table: "t", Key: "k"})
	if resp.Values[0].Kind != wire.KindNone {
		t.Fatalf("expected second del to return None, got %+v", resp.Values)
	}
}

func TestHmexistReportsBool(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()
	d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdHset, Table: "t", Key: "k", Value: wire.IntValue(1)})

	resp, _ := d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdHmexist, Table: "t", Keys: []string{"k", "missing"}})
	if !resp.Values[0].Bool || resp.Values[1].Bool {
		t.Fatalf("unexpected hmexist result: %+v", resp.Values)
	}
}

func TestSubscribeStreamsWelcomeWithID(t *testing.T) {
	d := newTestDispatcher()
	_, sub := d.Dispatch(context.Background(), wire.CommandRequest{Kind: wire.CmdSubscribe, Topic: "prices"})
	if sub == nil {
		t.Fatalf("expected a subscription")
	}
	welcome := <-sub.Queue
	if welcome.Status != wire.StatusOK || welcome.Values[0].Int != int64(sub.ID) {
		t.Fatalf("welcome must carry the id, got %+v", welcome)
	}
}

func TestSubscribeEmptyTopicIsUnprocessable(t *testing.T) {
	d := newTestDispatcher()
	resp, sub := d.Dispatch(context.Background(), wire.CommandRequest{Kind: wire.CmdSubscribe})
	if sub != nil {
		t.Fatalf("empty topic must not create a subscription")
	}
	if resp.Status != wire.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Status)
	}
}

func TestUnsubscribeUnknownIsNotFound(t *testing.T) {
	d := newTestDispatcher()
	resp, _ := d.Dispatch(context.Background(), wire.CommandRequest{Kind: wire.CmdUnsubscribe, Topic: "prices", SubscriptionID: 999})
	if resp.Status != wire.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Status)
	}
	if resp.Message != "subscription not found" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()
	_, sub := d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdSubscribe, Topic: "prices"})
	<-sub.Queue // welcome

	resp, _ := d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdPublish, Topic: "prices", Values: []wire.Value{wire.IntValue(42)}})
	if resp.Status != wire.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	if resp.Message != "" {
		t.Fatalf("success message must be empty, got %q", resp.Message)
	}

	select {
	case delivered := <-sub.Queue:
		if len(delivered.Values) != 1 || delivered.Values[0].Int != 42 {
			t.Fatalf("unexpected delivered payload: %+v", delivered)
		}
	default:
		t.Fatalf("expected a queued delivery")
	}
}

func TestPublishAfterUnsubscribeDeliversNothing(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()
	_, sub := d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdSubscribe, Topic: "news"})
	<-sub.Queue // welcome

	resp, _ := d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdUnsubscribe, Topic: "news", SubscriptionID: sub.ID})
	if resp.Status != wire.StatusOK {
		t.Fatalf("unsubscribe: expected 200, got %d", resp.Status)
	}

	d.Dispatch(ctx, wire.CommandRequest{Kind: wire.CmdPublish, Topic: "news", Values: []wire.Value{wire.StringValue("bye")}})
	if _, open := <-sub.Queue; open {
		t.Fatalf("expected end-of-stream, not a delivery")
	}
}

func TestMissingTableOrKeyIsUnprocessable(t *testing.T) {
	d := newTestDispatcher()
	resp, _ := d.Dispatch(context.Background(), wire.CommandRequest{Kind: wire.CmdHget, Table: "", Key: ""})
	if resp.Status != wire.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Status)
	}
}
