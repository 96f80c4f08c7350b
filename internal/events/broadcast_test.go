package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{}

func (failing) Notify(context.Context, Event) error { return errors.New("down") }

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	err := Multi{a, failing{}, b}.Notify(context.Background(), Event{Type: RunStarted, RunID: "r1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestBroadcaster_FanOut(t *testing.T) {
	br := NewBroadcaster(4)
	ch1, cancel1 := br.Subscribe()
	ch2, cancel2 := br.Subscribe()
	defer cancel2()
	assert.Equal(t, 2, br.Subscribers())

	require.NoError(t, br.Notify(context.Background(), Event{Type: RepoFinished, RepoID: "api"}))
	ev1, ev2 := <-ch1, <-ch2
	assert.Equal(t, "api", ev1.RepoID)
	assert.Equal(t, "api", ev2.RepoID)
	assert.False(t, ev1.At.IsZero())

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, br.Subscribers())
}

func TestBroadcaster_SlowSubscriberDrops(t *testing.T) {
	br := NewBroadcaster(1)
	ch, cancel := br.Subscribe()
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, br.Notify(context.Background(), Event{Type: RepoFinished}))
	}
	assert.Len(t, ch, 1)
}
