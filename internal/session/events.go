package session

import "time"

// EventType identifies a runner event pushed to attached clients.
type EventType string

const (
	EventTick         EventType = "tick"
	EventSaved        EventType = "saved"
	EventSaveFailed   EventType = "save_failed"
	EventConnectivity EventType = "connectivity"
	EventSubmitted    EventType = "submitted"
	EventSubmitFailed EventType = "submit_failed"
)

// Event is one state-change notification from a Runner. Fields are sparse;
// only the ones relevant to the Type are set.
type Event struct {
	Type             EventType `json:"event"`
	RemainingSeconds int       `json:"remaining_seconds"`
	Clock            string    `json:"clock,omitempty"`
	Online           *bool     `json:"online,omitempty"`
	SavedAt          string    `json:"saved_at,omitempty"`
	AutoSubmitted    bool      `json:"auto_submitted,omitempty"`
	RedirectTo       string    `json:"redirect_to,omitempty"`
	Message          string    `json:"message,omitempty"`
}

// Subscribe registers an event listener. The returned cancel func is
// idempotent. Slow listeners lose events rather than block the session.
func (r *Runner) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan Event, 32)
	r.subs[id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// publishLocked fans an event out to all subscribers. Callers hold r.mu.
func (r *Runner) publishLocked(ev Event) {
	ev.RemainingSeconds = r.remaining
	if ev.Clock == "" {
		ev.Clock = FormatClock(r.remaining)
	}
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default: // drop for slow consumers
		}
	}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
