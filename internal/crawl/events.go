package crawl

import (
	"sync"
	"time"

	"github.com/petstay/hotel-scraper/internal/models"
)

// EventType labels a crawl journal entry.
type EventType string

const (
	EventRunStarted          EventType = "run_started"
	EventItemScraped         EventType = "item_scraped"
	EventItemFailed          EventType = "item_failed"
	EventPageAdvanced        EventType = "page_advanced"
	EventCollectionAdvanced  EventType = "collection_advanced"
	EventCollectionAbandoned EventType = "collection_abandoned"
	EventStallDetected       EventType = "stall_detected"
	EventRunCompleted        EventType = "run_completed"
	EventRunFailed           EventType = "run_failed"
)

// Event is one entry in the crawl journal.
type Event struct {
	ID        string               `json:"id"`
	RunID     string               `json:"run_id"`
	Brand     string               `json:"brand"`
	Type      EventType            `json:"type"`
	Position  models.CrawlPosition `json:"position"`
	HotelCode string               `json:"hotel_code,omitempty"`
	Detail    string               `json:"detail,omitempty"`
	At        time.Time            `json:"at"`
}

// Recorder accepts journal events. Implementations must not block the
// crawl; slow sinks buffer internally and drop on overflow.
type Recorder interface {
	Record(ev Event)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}

// RingRecorder keeps the most recent events in memory. The monitor API
// serves these regardless of whether a durable journal is configured.
type RingRecorder struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

func NewRingRecorder(size int) *RingRecorder {
	if size <= 0 {
		size = 100
	}
	return &RingRecorder{events: make([]Event, size)}
}

func (r *RingRecorder) Record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = ev
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns buffered events, newest first.
func (r *RingRecorder) Recent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.events)
	}

	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out
}

// MultiRecorder fans one event out to several sinks.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ev Event) {
	for _, r := range m {
		if r != nil {
			r.Record(ev)
		}
	}
}
