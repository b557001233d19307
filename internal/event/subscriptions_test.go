package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSub struct{ n *int }

func (c countingSub) Unsubscribe() error {
	*c.n++
	return nil
}

type countingSource struct {
	subscribed   int
	unsubscribed int
	fail         error
}

func (s *countingSource) Subscribe(Channel, Handler) (Subscription, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	s.subscribed++
	return countingSub{n: &s.unsubscribed}, nil
}

func TestSubscriptions_RejectsSecondHandler(t *testing.T) {
	src := &countingSource{}
	subs := NewSubscriptions(src)

	require.NoError(t, subs.Subscribe(Progress, func(Message) {}))
	err := subs.Subscribe(Progress, func(Message) {})
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
	assert.Equal(t, 1, src.subscribed)

	require.NoError(t, subs.Subscribe(ProgressError, func(Message) {}))
	assert.True(t, subs.Active(Progress))
	assert.True(t, subs.Active(ProgressError))
}

func TestSubscriptions_ResubscribeAfterUnsubscribe(t *testing.T) {
	src := &countingSource{}
	subs := NewSubscriptions(src)

	require.NoError(t, subs.Subscribe(Progress, func(Message) {}))
	require.NoError(t, subs.Unsubscribe(Progress))
	require.NoError(t, subs.Unsubscribe(Progress))
	require.NoError(t, subs.Subscribe(Progress, func(Message) {}))

	assert.Equal(t, 2, src.subscribed)
	assert.Equal(t, 1, src.unsubscribed)
}

func TestSubscriptions_CloseReleasesEachOnce(t *testing.T) {
	src := &countingSource{}
	subs := NewSubscriptions(src)
	require.NoError(t, subs.Subscribe(Progress, func(Message) {}))
	require.NoError(t, subs.Subscribe(ProgressError, func(Message) {}))

	require.NoError(t, subs.Close())
	require.NoError(t, subs.Close())
	assert.Equal(t, 2, src.unsubscribed)

	assert.ErrorIs(t, subs.Subscribe(Progress, func(Message) {}), ErrSubscriptionsClosed)
	assert.False(t, subs.Active(Progress))
}

func TestSubscriptions_SourceError(t *testing.T) {
	boom := errors.New("boom")
	subs := NewSubscriptions(&countingSource{fail: boom})
	assert.ErrorIs(t, subs.Subscribe(Progress, func(Message) {}), boom)
	assert.False(t, subs.Active(Progress))
}

func TestSubscriptions_WithBus(t *testing.T) {
	b := startBus(t)
	subs := NewSubscriptions(b)
	require.NoError(t, subs.Subscribe(Progress, func(Message) {}))
	require.NoError(t, subs.Subscribe(ProgressError, func(Message) {}))
	assert.Equal(t, 1, b.Len(Progress))

	require.NoError(t, subs.Close())
	assert.Equal(t, 0, b.Len(Progress))
	assert.Equal(t, 0, b.Len(ProgressError))
}
