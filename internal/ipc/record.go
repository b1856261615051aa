package ipc

import (
	"context"

	"go.uber.org/zap"
)

// Direction tells whether a recorded message was sent or received.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Recorder observes traffic on a transport.
type Recorder interface {
	Record(ctx context.Context, dir Direction, msg *Message) error
}

type tap struct {
	Transport
	rec Recorder
	log *zap.Logger
}

// Tap reports every message that passes through t to rec. Recorder
// failures are logged and never fail the transport operation.
func Tap(t Transport, rec Recorder, log *zap.Logger) Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &tap{Transport: t, rec: rec, log: log}
}

func (t *tap) Send(ctx context.Context, msg *Message) error {
	if err := t.Transport.Send(ctx, msg); err != nil {
		return err
	}
	t.record(ctx, Sent, msg)
	return nil
}

func (t *tap) Receive(ctx context.Context) (*Message, error) {
	msg, err := t.Transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	t.record(ctx, Received, msg)
	return msg, nil
}

func (t *tap) record(ctx context.Context, dir Direction, msg *Message) {
	if err := t.rec.Record(ctx, dir, msg); err != nil {
		t.log.Warn("recording message", zap.String("message", msg.Name), zap.String("direction", string(dir)), zap.Error(err))
	}
}
