// Package dispatch maps a decoded CommandRequest onto storage and broker
// operations and shapes the CommandResponse (or response stream) the stream
// service sends back.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kvserver/internal/broker"
	"kvserver/internal/metrics"
	"kvserver/internal/storage"
	"kvserver/internal/wire"
)

// Dispatcher ties one Backend and one Broker together. It is safe for
// concurrent use by many stream services. Metrics and Tracer are optional;
// nil disables them.
type Dispatcher struct {
	Storage storage.Backend
	Broker  *broker.Broker
	Metrics *metrics.Registry
	Tracer  trace.Tracer
}

func New(s storage.Backend, b *broker.Broker) *Dispatcher {
	return &Dispatcher{Storage: s, Broker: b}
}

// Dispatch executes one request and returns its immediate response. For
// Subscribe the response stream is the returned Subscription's queue (its
// first item is the welcome response) and the CommandResponse is unused;
// for every other command sub is nil and the response is the single reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req wire.CommandRequest) (wire.CommandResponse, *broker.Subscription) {
	start := time.Now()
	var span trace.Span
	if d.Tracer != nil {
		ctx, span = d.Tracer.Start(ctx, "kv.dispatch")
	}

	resp, sub := d.dispatch(ctx, req)

	status := resp.Status
	if sub != nil {
		status = wire.StatusOK
	}
	if span != nil {
		span.SetAttributes(
			attribute.String("kv.command", req.Kind.String()),
			attribute.String("kv.table", req.Table),
			attribute.Int("kv.status", int(status)),
			attribute.Int64("kv.duration_us", time.Since(start).Microseconds()),
		)
		span.End()
	}
	if d.Metrics != nil {
		d.Metrics.Commands.Processed.WithLabelValues(req.Kind.String(), strconv.Itoa(int(status))).Inc()
	}
	return resp, sub
}

func (d *Dispatcher) dispatch(ctx context.Context, req wire.CommandRequest) (wire.CommandResponse, *broker.Subscription) {
	switch req.Kind {
	case wire.CmdHget:
		return d.hget(ctx, req), nil
	case wire.CmdHgetall:
		return d.hgetall(ctx, req), nil
	case wire.CmdHmget:
		return d.hmget(ctx, req), nil
	case wire.CmdHset:
		return d.hset(ctx, req), nil
	case wire.CmdHmset:
		return d.hmset(ctx, req), nil
	case wire.CmdHdel:
		return d.hdel(ctx, req), nil
	case wire.CmdHmdel:
		return d.hmdel(ctx, req), nil
	case wire.CmdHexist:
		return d.hexist(ctx, req), nil
	case wire.CmdHmexist:
		return d.hmexist(ctx, req), nil
	case wire.CmdSubscribe:
		return d.subscribe(req)
	case wire.CmdUnsubscribe:
		return d.unsubscribe(req), nil
	case wire.CmdPublish:
		return d.publish(req), nil
	default:
		return errorResponse(wire.StatusUnprocessableEntity, "unknown command"), nil
	}
}

func errorResponse(status uint16, msg string) wire.CommandResponse {
	return wire.CommandResponse{Status: status, Message: msg}
}

func okValues(values ...wire.Value) wire.CommandResponse {
	return wire.CommandResponse{Status: wire.StatusOK, Values: values}
}

// hget never reports 404 on a missing key: a miss is represented as a
// single None value with status 200.
func (d *Dispatcher) hget(ctx context.Context, req wire.CommandRequest) wire.CommandResponse {
	if req.Table == "" || req.Key == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "table and key are required")
	}
	v, err := d.Storage.Get(ctx, req.Table, req.Key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return errorResponse(wire.StatusInternalError, err.Error())
	}
	if errors.Is(err, storage.ErrNotFound) {
		v = wire.NoneValue()
	}
	return okValues(v)
}

// hgetall on a table that was never created returns 200 with an empty pair
// list, the same "absence is not an error" stance as hget.
func (d *Dispatcher) hgetall(ctx context.Context, req wire.CommandRequest) wire.CommandResponse {
	if req.Table == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "table is required")
	}
	entries, err := d.Storage.Iter(ctx, req.Table)
	if err != nil {
		return errorResponse(wire.StatusInternalError, err.Error())
	}
	pairs := make([]wire.Kvpair, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, wire.Kvpair{Key: e.Key, Value: e.Value})
	}
	return wire.CommandResponse{Status: wire.StatusOK, Pairs: pairs}
}

func (d *Dispatcher) hmget(ctx context.Context, req wire.CommandRequest) wire.CommandResponse {
	if req.Table == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "table is required")
	}
	values := make([]wire.Value, 0, len(req.Keys))
	for _, k := range req.Keys {
		v, err := d.Storage.Get(ctx, req.Table, k)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return errorResponse(wire.StatusInternalError, err.Error())
		}
		if errors.Is(err, storage.ErrNotFound) {
			v = wire.NoneValue()
		}
		values = append(values, v)
	}
	return wire.CommandResponse{Status: wire.StatusOK, Values: values}
}

// hset replies with the value previously stored under the key, the None
// variant when the key is new.
func (d *Dispatcher) hset(ctx context.Context, req wire.CommandRequest) wire.CommandResponse {
	if req.Table == "" || req.Key == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "table and key are required")
	}
	prior, err := d.Storage.Set(ctx, req.Table, req.Key, req.Value)
	if err != nil {
		return errorResponse(wire.StatusInternalError, err.Error())
	}
	return okValues(prior)
}

func (d *Dispatcher) hmset(ctx context.Context, req wire.CommandRequest) wire.CommandResponse {
	if req.Table == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "table is required")
	}
	values := make([]wire.Value, 0, len(req.Pairs))
	for _, p := range req.Pairs {
		prior, err := d.Storage.Set(ctx, req.Table, p.Key, p.Value)
		if err != nil {
			return errorResponse(wire.StatusInternalError, err.Error())
		}
		values = append(values, prior)
	}
	return wire.CommandResponse{Status: wire.StatusOK, Values: values}
}

func (d *Dispatcher) hdel(ctx context.Context, req wire.CommandRequest) wire.CommandResponse {
	if req.Table == "" || req.Key == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "table and key are required")
	}
	prior, err := d.Storage.Del(ctx, req.Table, req.Key)
	if err != nil {
		return errorResponse(wire.StatusInternalError, err.Error())
	}
	return okValues(prior)
}

func (d *Dispatcher) hmdel(ctx context.Context, req wire.CommandRequest) wire.CommandResponse {
	if req.Table == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "table is required")
	}
	values := make([]wire.Value, 0, len(req.Keys))
	for _, k := range req.Keys {
		prior, err := d.Storage.Del(ctx, req.Table, k)
		if err != nil {
			return errorResponse(wire.StatusInternalError, err.Error())
		}
		values = append(values, prior)
	}
	return wire.CommandResponse{Status: wire.StatusOK, Values: values}
}

func (d *Dispatcher) hexist(ctx context.Context, req wire.CommandRequest) wire.CommandResponse {
	if req.Table == "" || req.Key == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "table and key are required")
	}
	ok, err := d.Storage.Contains(ctx, req.Table, req.Key)
	if err != nil {
		return errorResponse(wire.StatusInternalError, err.Error())
	}
	return okValues(wire.BoolValue(ok))
}

func (d *Dispatcher) hmexist(ctx context.Context, req wire.CommandRequest) wire.CommandResponse {
	if req.Table == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "table is required")
	}
	values := make([]wire.Value, 0, len(req.Keys))
	for _, k := range req.Keys {
		ok, err := d.Storage.Contains(ctx, req.Table, k)
		if err != nil {
			return errorResponse(wire.StatusInternalError, err.Error())
		}
		values = append(values, wire.BoolValue(ok))
	}
	return wire.CommandResponse{Status: wire.StatusOK, Values: values}
}

func (d *Dispatcher) subscribe(req wire.CommandRequest) (wire.CommandResponse, *broker.Subscription) {
	if req.Topic == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "topic is required"), nil
	}
	sub := d.Broker.Subscribe(req.Topic)
	if d.Metrics != nil {
		d.Metrics.PubSub.ActiveSubscriptions.Inc()
	}
	return wire.CommandResponse{}, sub
}

// unsubscribe is the only command with a 404 outcome: unsubscribing a
// subscription id that is not currently registered on the given topic.
func (d *Dispatcher) unsubscribe(req wire.CommandRequest) wire.CommandResponse {
	if req.Topic == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "topic is required")
	}
	if !d.Broker.Unsubscribe(req.Topic, req.SubscriptionID) {
		return errorResponse(wire.StatusNotFound, "subscription not found")
	}
	if d.Metrics != nil {
		d.Metrics.PubSub.ActiveSubscriptions.Dec()
	}
	return wire.CommandResponse{Status: wire.StatusOK}
}

// publish delivers to current subscribers and always returns 200, even when
// there are no subscribers or the payload carries no values (a bare
// notification).
func (d *Dispatcher) publish(req wire.CommandRequest) wire.CommandResponse {
	if req.Topic == "" {
		return errorResponse(wire.StatusUnprocessableEntity, "topic is required")
	}
	notification := wire.CommandResponse{Status: wire.StatusOK, Values: req.Values}
	delivered, dropped := d.Broker.Publish(req.Topic, notification)
	if d.Metrics != nil {
		d.Metrics.PubSub.Published.Inc()
		d.Metrics.PubSub.Delivered.Add(float64(delivered))
		d.Metrics.PubSub.Dropped.Add(float64(dropped))
	}
	return wire.CommandResponse{Status: wire.StatusOK}
}
