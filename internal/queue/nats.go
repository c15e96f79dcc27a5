package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNoJob signals that a Pop timed out without receiving a job id.
var ErrNoJob = errors.New("no job available")

const (
	durableName = "illustrator"
	// ackWait is the redelivery lease: a worker that dies mid-job loses the
	// message back to the stream after this long.
	ackWait = 5 * time.Minute
)

// Queue is the FIFO hand-off channel carrying job identifiers from the
// gateway to the worker. It is backed by a JetStream work-queue stream so
// ids published while no worker is running survive until one comes up.
type Queue struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	stream  string
	subject string
	sub     *nats.Subscription
}

// Connect dials NATS and binds the JetStream context.
func Connect(url, stream, subject string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Queue{nc: nc, js: js, stream: stream, subject: subject}, nil
}

// EnsureStream creates the work-queue stream when it does not exist yet.
// Safe to call from both the gateway and the worker.
func (q *Queue) EnsureStream(ctx context.Context) error {
	_, err := q.js.StreamInfo(q.stream, nats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}
	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:      q.stream,
		Subjects:  []string{q.subject},
		Retention: nats.WorkQueuePolicy,
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("add stream: %w", err)
	}
	return nil
}

// Push publishes a job identifier. The caller must have created the job
// record before pushing; a worker may pop the id immediately.
func (q *Queue) Push(ctx context.Context, jobID string) error {
	if _, err := q.js.Publish(q.subject, []byte(jobID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish job id: %w", err)
	}
	return nil
}

// Pop blocks until a job id arrives or the timeout elapses, returning
// ErrNoJob on timeout. The delivery must be acked once the job reaches a
// terminal status; unacked deliveries are redelivered after the ack wait.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.sub == nil {
		sub, err := q.js.PullSubscribe(q.subject, durableName,
			nats.BindStream(q.stream),
			nats.AckWait(ackWait),
			nats.ManualAck(),
		)
		if err != nil {
			return nil, fmt.Errorf("pull subscribe: %w", err)
		}
		q.sub = sub
	}
	msgs, err := q.sub.Fetch(1, nats.MaxWait(timeout))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, ErrNoJob
		}
		return nil, fmt.Errorf("fetch job id: %w", err)
	}
	if len(msgs) == 0 {
		return nil, ErrNoJob
	}
	msg := msgs[0]
	return &Delivery{
		JobID: string(msg.Data),
		Ack:   func() error { return msg.Ack() },
		Nak:   func() error { return msg.Nak() },
	}, nil
}

// Close drains the connection.
func (q *Queue) Close() {
	if q.nc != nil {
		_ = q.nc.Drain()
	}
}

// Delivery is one popped job identifier awaiting acknowledgement. Ack
// removes the id from the work queue; Nak hands it back for immediate
// redelivery.
type Delivery struct {
	JobID string
	Ack   func() error
	Nak   func() error
}
