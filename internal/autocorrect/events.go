package autocorrect

import "time"

// Event is one state transition of a run.
type Event struct {
	RunID      string    `json:"run_id"`
	SnapshotID string    `json:"snapshot_id"`
	Iteration  int       `json:"iteration"`
	State      State     `json:"state"`
	Status     Status    `json:"status,omitempty"`
	Message    string    `json:"message,omitempty"`
	Time       time.Time `json:"time"`
}

// Final reports whether the event ends its run.
func (e Event) Final() bool { return e.Status != "" }

// Observer receives the events of every run. Publish must not block.
type Observer interface {
	Publish(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Publish(e Event) { f(e) }
