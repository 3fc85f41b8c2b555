package run

import (
	"strings"
	"sync"
	"time"

	"smartplanning/internal/autocorrect"
)

const (
	completedRunRetention = 30 * time.Second
	defaultSubscriberSize = 32
)

type subscriber struct {
	snapshotID string
	ch         chan autocorrect.Event
}

// EventBroker fans correction events out to subscribers and keeps the events
// of each run until shortly after it finishes, so late subscribers can replay
// them.
type EventBroker struct {
	mu        sync.RWMutex
	nextID    int
	subs      map[int]*subscriber
	history   map[string][]autocorrect.Event
	retention time.Duration
}

func NewEventBroker() *EventBroker {
	return &EventBroker{
		subs:      make(map[int]*subscriber),
		history:   make(map[string][]autocorrect.Event),
		retention: completedRunRetention,
	}
}

// Subscribe registers a channel receiving the events of snapshotID, or of
// every snapshot when snapshotID is empty. cancel unregisters and closes it.
func (b *EventBroker) Subscribe(snapshotID string, size int) (<-chan autocorrect.Event, func()) {
	if size <= 0 {
		size = defaultSubscriberSize
	}
	sub := &subscriber{snapshotID: strings.TrimSpace(snapshotID), ch: make(chan autocorrect.Event, size)}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish implements autocorrect.Observer. It never blocks: a subscriber that
// falls behind loses its oldest pending event.
func (b *EventBroker) Publish(e autocorrect.Event) {
	b.mu.Lock()
	b.history[e.RunID] = append(b.history[e.RunID], e)
	for _, sub := range b.subs {
		if sub.snapshotID != "" && sub.snapshotID != e.SnapshotID {
			continue
		}
		push(sub.ch, e)
	}
	b.mu.Unlock()
	if e.Final() {
		b.ScheduleCleanup(e.RunID)
	}
}

// Events returns the retained events of a run.
func (b *EventBroker) Events(runID string) []autocorrect.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]autocorrect.Event(nil), b.history[strings.TrimSpace(runID)]...)
}

// ScheduleCleanup drops a run's retained events after the retention period.
func (b *EventBroker) ScheduleCleanup(runID string) {
	time.AfterFunc(b.retention, func() {
		b.mu.Lock()
		delete(b.history, strings.TrimSpace(runID))
		b.mu.Unlock()
	})
}

func push(ch chan autocorrect.Event, e autocorrect.Event) {
	select {
	case ch <- e:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- e:
	default:
	}
}
