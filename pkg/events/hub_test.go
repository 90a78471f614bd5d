package events

import (
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(b)

	h.Publish(FeedingResult, FeedingResultEvent{Dog: "bori", Status: "completed", Amount: 30})

	for _, ch := range []chan Event{a, b} {
		ev := <-ch
		if ev.Name != FeedingResult {
			t.Errorf("unexpected event name %q", ev.Name)
		}
		p, err := DecodeAs[FeedingResultEvent](ev)
		if err != nil {
			t.Fatal(err)
		}
		if p.Dog != "bori" || p.Status != "completed" || p.Amount != 30 {
			t.Errorf("unexpected payload %+v", p)
		}
	}

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	if _, ok := <-a; ok {
		t.Error("expected the channel to be closed after unsubscribe")
	}
	if h.Subscribers() != 1 {
		t.Errorf("expected 1 subscriber, got %d", h.Subscribers())
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		h.Publish(ScheduleChanged, ScheduleChangedEvent{Action: "add"})
	}
	if len(ch) != cap(ch) {
		t.Errorf("expected a full buffer, got %d/%d", len(ch), cap(ch))
	}
}

func TestPublishNilHub(t *testing.T) {
	var h *EventHub
	h.Publish(FeedingUpcoming, nil)
}

func TestDecodeAsEmpty(t *testing.T) {
	p, err := DecodeAs[FeedingUpcomingEvent](Event{Name: FeedingUpcoming})
	if err != nil || p.Dog != "" {
		t.Errorf("expected zero value, got %+v, %v", p, err)
	}
}
