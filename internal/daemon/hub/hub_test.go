package hub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *Subscriber) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSubscribeReceivesConnectedFirst(t *testing.T) {
	h := New(10)
	h.Broadcast(Added("before.jpg"))

	sub := h.Subscribe("127.0.0.1")
	h.Broadcast(Added("after.jpg"))

	events := drain(sub)
	require.Len(t, events, 2, "no replay of earlier events")
	assert.Equal(t, EventConnected, events[0].Type)
	assert.Equal(t, EventAdd, events[1].Type)
	assert.Equal(t, FilePayload{Filename: "after.jpg"}, events[1].Data)
	assert.NotEmpty(t, sub.ID)
}

func TestThreeSubscribersSeeSameOrder(t *testing.T) {
	h := New(10)
	subs := []*Subscriber{h.Subscribe("a"), h.Subscribe("b"), h.Subscribe("c")}

	h.Broadcast(Added("a.jpg"))
	h.Broadcast(Removed("b.jpg"))
	h.Broadcast(Reshuffled([]string{"a.jpg"}))

	for _, sub := range subs {
		events := drain(sub)
		require.Len(t, events, 4)
		assert.Equal(t, EventConnected, events[0].Type)
		assert.Equal(t, Event{Type: EventAdd, Seq: 1, Data: FilePayload{Filename: "a.jpg"}}, events[1])
		assert.Equal(t, EventRemove, events[2].Type)
		assert.Equal(t, EventReshuffle, events[3].Type)
	}
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	h := New(2)
	slow := h.Subscribe("slow")
	fast := h.Subscribe("fast")

	var received []Event
	for i := 0; i < 5; i++ {
		h.Broadcast(Added(fmt.Sprintf("%d.jpg", i)))
		received = append(received, drain(fast)...)
	}

	assert.Len(t, received, 6, "fast subscriber gets connected plus every event")
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber should be evicted")
	}

	// The slow queue still yields what it had, then closes.
	events := drain(slow)
	assert.Equal(t, EventConnected, events[0].Type)

	stats := h.Stats()
	assert.Equal(t, 1, stats.Subscribers)
	assert.Equal(t, uint64(1), stats.Evicted)
	assert.Equal(t, uint64(5), stats.Published)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := New(4)
	sub := h.Subscribe("x")
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	_, open := <-sub.Events()
	assert.True(t, open, "connected event is still readable")
	_, open = <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, h.Stats().Subscribers)

	h.Broadcast(Added("a.jpg"))
}

func TestConcurrentSubscribeAndBroadcast(t *testing.T) {
	h := New(1000)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Broadcast(Added(fmt.Sprintf("%d.jpg", i)))
		}
	}()

	subs := make(chan *Subscriber, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := h.Subscribe(fmt.Sprint(i))
			if i%2 == 0 {
				h.Unsubscribe(sub)
				return
			}
			subs <- sub
		}(i)
	}
	wg.Wait()
	close(subs)

	for sub := range subs {
		events := drain(sub)
		require.NotEmpty(t, events)
		assert.Equal(t, EventConnected, events[0].Type)
		for i := 2; i < len(events); i++ {
			assert.Equal(t, events[i-1].Seq+1, events[i].Seq, "no gaps or reordering")
		}
	}
}

func TestClose(t *testing.T) {
	h := New(4)
	sub := h.Subscribe("x")
	h.Close()
	<-sub.Done()

	late := h.Subscribe("late")
	<-late.Done()
	events := drain(late)
	require.Len(t, events, 1)
	assert.Equal(t, EventConnected, events[0].Type)
}

func TestMarshalData(t *testing.T) {
	data, err := Event{Type: EventConnected}.MarshalData()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	interval := 8000
	data, err = ConfigUpdated(ConfigPayload{SlideshowInterval: &interval}).MarshalData()
	require.NoError(t, err)
	assert.JSONEq(t, `{"slideshowInterval": 8000}`, string(data))

	data, err = Reshuffled([]string{"a.jpg", "b.jpg"}).MarshalData()
	require.NoError(t, err)
	assert.JSONEq(t, `{"images": ["a.jpg", "b.jpg"]}`, string(data))
}
