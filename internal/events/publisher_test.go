package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type publisherFunc func(ctx context.Context, event Event) error

func (f publisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

func TestNew(t *testing.T) {
	e := New(AccessRequestCreated, map[string]string{"entry_id": "e1"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, AccessRequestCreated, e.Type)
	assert.False(t, e.OccurredAt.IsZero())
	assert.Equal(t, "e1", e.Data["entry_id"])
}

func TestSafePublisher_SwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	failing := publisherFunc(func(context.Context, Event) error { return errors.New("broker unreachable") })
	p := NewSafePublisher(failing, logger)

	err := p.Publish(context.Background(), New(AccountLocked, nil))
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "broker unreachable")
	assert.Contains(t, buf.String(), AccountLocked)
}

func TestSafePublisher_Forwards(t *testing.T) {
	var got []string
	p := NewSafePublisher(publisherFunc(func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	}), slog.Default())

	_ = p.Publish(context.Background(), New(AccessRequestApproved, nil))
	assert.Equal(t, []string{AccessRequestApproved}, got)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), New(AccessRequestRejected, nil)))
}
