package host_test

import (
	"testing"

	"github.com/seantiz/gamehost/internal/host"
)

func drain(ch <-chan host.Event) []string {
	var types []string
	for ev := range ch {
		types = append(types, ev.Type)
	}
	return types
}

func TestEventBrokerDeliversInOrder(t *testing.T) {
	b := host.NewEventBroker()
	ch, unsub := b.Subscribe("s1")
	defer unsub()

	want := []string{host.EventCreated, host.EventJoined, host.EventStarted}
	for _, typ := range want {
		b.Publish(host.Event{Type: typ, SessionID: "s1"})
	}
	b.Close("s1")

	got := drain(ch)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEventBrokerFansOutPerSession(t *testing.T) {
	b := host.NewEventBroker()
	ch1, unsub1 := b.Subscribe("s1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("s1")
	defer unsub2()
	other, unsub3 := b.Subscribe("s2")
	defer unsub3()

	b.Publish(host.Event{Type: host.EventJoined, SessionID: "s1"})
	b.Close("s1")
	b.Close("s2")

	if got := drain(ch1); len(got) != 1 {
		t.Errorf("subscriber 1 got %v", got)
	}
	if got := drain(ch2); len(got) != 1 {
		t.Errorf("subscriber 2 got %v", got)
	}
	if got := drain(other); len(got) != 0 {
		t.Errorf("other session got %v", got)
	}
}

func TestEventBrokerLateSubscriberGetsClosedChannel(t *testing.T) {
	b := host.NewEventBroker()
	b.Close("s1")

	ch, unsub := b.Subscribe("s1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestEventBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := host.NewEventBroker()
	ch, unsub := b.Subscribe("s1")
	unsub()

	b.Publish(host.Event{Type: host.EventLeft, SessionID: "s1"})

	select {
	case ev := <-ch:
		t.Errorf("got %+v after unsubscribe", ev)
	default:
	}
}

func TestEventBrokerDropsWhenSubscriberIsBehind(t *testing.T) {
	b := host.NewEventBroker()
	ch, unsub := b.Subscribe("s1")
	defer unsub()

	for range 1000 {
		b.Publish(host.Event{Type: host.EventJoined, SessionID: "s1"})
	}
	b.Close("s1")

	got := drain(ch)
	if len(got) == 0 || len(got) >= 1000 {
		t.Errorf("got %d events, want a bounded non-zero number", len(got))
	}
}

func TestEventBrokerPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := host.NewEventBroker()
	b.Publish(host.Event{Type: host.EventCreated, SessionID: "nobody"})
	b.Close("nobody")
}
