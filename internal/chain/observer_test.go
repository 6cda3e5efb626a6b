package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/codenode-comments/internal/domain"
)

func TestObserver_UnsubscribesOnCancel(t *testing.T) {
	o := NewObserver()
	ctx, cancel := context.WithCancel(context.Background())
	ch := o.Subscribe(ctx, node)
	require.Equal(t, 1, o.subscribers(node))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
	assert.Eventually(t, func() bool { return o.subscribers(node) == 0 }, time.Second, 5*time.Millisecond)
}

func TestObserver_DropsWhenSubscriberIsSlow(t *testing.T) {
	o := NewObserver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := o.Subscribe(ctx, node)

	c := &domain.Comment{ID: "a", EntityKey: node}
	for i := 0; i < subscriberBuffer+10; i++ {
		o.publish(Event{Type: EventEdited, EntityKey: node, Comment: c})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestObserver_EventsAreCopies(t *testing.T) {
	o := NewObserver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := o.Subscribe(ctx, node)

	c := &domain.Comment{ID: "a", EntityKey: node, Text: "before"}
	o.publish(Event{Type: EventAppended, EntityKey: node, Comment: c})
	c.Text = "after"

	ev := <-ch
	assert.Equal(t, "before", ev.Comment.Text)
}
