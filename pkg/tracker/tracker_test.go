package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribePublishBroadcastsToAllSubscribers(t *testing.T) {
	tr := New(nil)

	ch1, cancel1 := tr.Subscribe()
	defer cancel1()
	ch2, cancel2 := tr.Subscribe()
	defer cancel2()

	tr.publish(Event{RunID: "run-1", Stage: "collection", ProgressPercent: 10})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			require.Equal(t, "run-1", ev.RunID)
			require.Equal(t, "collection", ev.Stage)
			require.False(t, ev.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("expected event on subscriber channel")
		}
	}
}

func TestUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	tr := New(nil)
	ch, cancel := tr.Subscribe()
	cancel()

	_, open := <-ch
	require.False(t, open, "channel must be closed after unsubscribe")

	// Publishing after unsubscribe must not panic or block.
	tr.publish(Event{RunID: "run-2"})
}

func TestSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	tr := New(nil)
	ch, cancel := tr.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		tr.publish(Event{RunID: "run-3"})
	}

	require.Len(t, ch, subscriberBuffer, "channel should fill to capacity without blocking the publisher")
}
