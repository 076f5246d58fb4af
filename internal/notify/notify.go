// Package notify delivers rendered messages to places other than the game
// host: the local terminal and a Redis channel. Multi fans a message out to
// several notifiers.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/sweeney/nightskip/internal/logic"
	"github.com/sweeney/nightskip/internal/render"
)

// Multi fans messages out to several notifiers.
type Multi struct {
	sinks []logic.Notifier
}

// NewMulti creates a Multi. Nil entries are skipped.
func NewMulti(sinks ...logic.Notifier) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Broadcast sends msg to every sink. All sinks are tried; the errors are
// joined.
func (m *Multi) Broadcast(ctx context.Context, msg render.Message) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Broadcast(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send sends a private message through every sink.
func (m *Multi) Send(ctx context.Context, id uuid.UUID, msg render.Message) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, id, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
