package events

import "encoding/json"

// Event name constants
const (
	FeedingUpcoming = "feeding.upcoming"
	FeedingResult   = "feeding.result"
	ScheduleChanged = "schedule.changed"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// FeedingUpcomingEvent is the typed payload for feeding.upcoming.
type FeedingUpcomingEvent struct {
	Dog    string `json:"dog"`
	Time   string `json:"time"`
	Amount int    `json:"amount"`
	At     int64  `json:"at"`
}

// FeedingResultEvent is the typed payload for feeding.result.
type FeedingResultEvent struct {
	Dog    string `json:"dog"`
	Time   string `json:"time"`
	Amount int    `json:"amount"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Ts     int64  `json:"ts"`
}

// ScheduleChangedEvent is the typed payload for schedule.changed.
type ScheduleChangedEvent struct {
	Action string `json:"action"`
	Dog    string `json:"dog"`
	Time   string `json:"time"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// If Data is empty, it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.FeedingResultEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Dog, payload.Status)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
