package pipeline

import (
	"time"

	"github.com/snarg/segscribe/internal/media"
	"github.com/snarg/segscribe/internal/transcribe"
)

// EventType names a job lifecycle event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventSegmented EventType = "segmented"
	EventSegment   EventType = "segment"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is a progress notification for one job. Transcript text is never
// included; subscribers get counts and statuses only.
type Event struct {
	ID       string          `json:"id,omitempty"` // assigned by EventBus
	JobID    string          `json:"job_id"`
	Type     EventType       `json:"type"`
	Time     time.Time       `json:"time"`
	Source   string          `json:"source,omitempty"`
	Segments int             `json:"segments,omitempty"`
	Coverage *media.Coverage `json:"coverage,omitempty"`
	Segment  *SegmentEvent   `json:"segment,omitempty"`
	Summary  *Summary        `json:"summary,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// SegmentEvent reports the outcome of one segment.
type SegmentEvent struct {
	Index       int               `json:"index"`
	Total       int               `json:"total"`
	Status      transcribe.Status `json:"status"`
	Attempts    int               `json:"attempts"`
	FailureKind transcribe.Kind   `json:"failure_kind,omitempty"`
}

// Publisher receives job events. Publish must not block the pipeline for
// long; implementations drop or buffer instead.
type Publisher interface {
	Publish(Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// Publishers fans one event out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(e Event) {
	for _, p := range ps {
		if p != nil {
			p.Publish(e)
		}
	}
}
