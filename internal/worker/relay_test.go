package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"expensetracker/internal/amqp"
	"expensetracker/internal/core"
	"expensetracker/internal/storage/memory"
	"expensetracker/internal/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.ExpenseChangeMessage
	fail map[int64]error
}

func (p *recordingPublisher) PublishExpenseChange(_ context.Context, msg *amqp.ExpenseChangeMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[msg.ID]; err != nil {
		return err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) snapshot() []*amqp.ExpenseChangeMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.ExpenseChangeMessage(nil), p.msgs...)
}

func startRelay(t *testing.T, r *ChangeRelay) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

// notifyingSource reports when the relay has subscribed.
type notifyingSource struct {
	ChangeSource
	subscribed chan struct{}
}

func (s notifyingSource) Changes(buffer int) (<-chan stream.Change, func()) {
	ch, unsubscribe := s.ChangeSource.Changes(buffer)
	close(s.subscribed)
	return ch, unsubscribe
}

func TestChangeRelayPublishesInsertsAndDeletes(t *testing.T) {
	store := memory.New()
	defer store.Close()
	pub := &recordingPublisher{}
	src := notifyingSource{ChangeSource: store, subscribed: make(chan struct{})}
	relay := NewChangeRelay(src, pub, 8, nil)
	startRelay(t, relay)
	<-src.subscribed

	ctx := context.Background()
	note := "team lunch"
	id, err := store.Insert(ctx, core.Expense{Amount: 9.5, Category: core.CategoryFood, Date: 1, Note: &note})
	require.NoError(t, err)
	e, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, e)
	_, err = store.DeleteByIdentity(ctx, *e)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	msgs := pub.snapshot()
	assert.Equal(t, string(stream.OpInsert), msgs[0].Operation)
	assert.Equal(t, string(stream.OpDelete), msgs[1].Operation)
	assert.True(t, msgs[0].Expense().Equal(*e))
	assert.NotEqual(t, msgs[0].MessageID, msgs[1].MessageID)

	require.Eventually(t, func() bool {
		published, failed := relay.Stats()
		return published == 2 && failed == 0
	}, time.Second, 10*time.Millisecond)
}

func TestChangeRelayContinuesAfterPublishFailure(t *testing.T) {
	feed := stream.NewFeed()
	pub := &recordingPublisher{fail: map[int64]error{1: errors.New("channel closed")}}
	relay := NewChangeRelay(feedSource{feed}, pub, 8, nil)
	cancel, done := startRelay(t, relay)

	require.Eventually(t, func() bool { return feed.Len() == 1 }, time.Second, 5*time.Millisecond)
	feed.Publish(stream.Change{Op: stream.OpInsert, Expense: core.Expense{ID: 1}})
	feed.Publish(stream.Change{Op: stream.OpInsert, Expense: core.Expense{ID: 2}})

	require.Eventually(t, func() bool {
		published, failed := relay.Stats()
		return published == 1 && failed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), pub.snapshot()[0].ID)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestChangeRelayStopsWhenFeedCloses(t *testing.T) {
	feed := stream.NewFeed()
	relay := NewChangeRelay(feedSource{feed}, &recordingPublisher{}, 1, nil)
	_, done := startRelay(t, relay)

	require.Eventually(t, func() bool { return feed.Len() == 1 }, time.Second, 5*time.Millisecond)
	feed.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after feed closed")
	}
}

type feedSource struct{ feed *stream.Feed }

func (s feedSource) Changes(buffer int) (<-chan stream.Change, func()) {
	return s.feed.Subscribe(buffer)
}
