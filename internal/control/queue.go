package control

import (
	"context"
	"fmt"

	"github.com/sweeney/nightskip/internal/render"
)

// Request is a command waiting to be executed on the run loop.
type Request struct {
	Command string
	Args    []string
	reply   chan Reply
}

// Respond delivers the reply. It never blocks, and a second call is a no-op.
func (r Request) Respond(rep Reply) {
	select {
	case r.reply <- rep:
	default:
	}
}

// Queue hands commands from HTTP and MQTT goroutines to the run loop, so
// the controller is only ever touched from one goroutine.
type Queue struct {
	ch chan Request
}

// NewQueue creates a queue holding up to size pending requests.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Request, size)}
}

// Requests is read by the run loop.
func (q *Queue) Requests() <-chan Request {
	return q.ch
}

// Submit enqueues a command and waits for its reply.
func (q *Queue) Submit(ctx context.Context, command string, args ...string) (Reply, error) {
	req := Request{Command: command, Args: args, reply: make(chan Reply, 1)}
	select {
	case q.ch <- req:
	case <-ctx.Done():
		return Reply{}, fmt.Errorf("submit %s: %w", command, ctx.Err())
	}
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-ctx.Done():
		return Reply{}, fmt.Errorf("wait for %s: %w", command, ctx.Err())
	}
}

// Handle submits a command and returns the reply as one message. Queue
// failures are rendered as a reply so remote callers always get an answer.
func (q *Queue) Handle(ctx context.Context, command string, args []string) render.Message {
	rep, err := q.Submit(ctx, command, args...)
	if err != nil {
		return failed("Command not executed.", err).Message()
	}
	return rep.Message()
}
