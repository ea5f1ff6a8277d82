package feeder

import "time"

// EventType classifies feed events.
type EventType string

const (
	EventFeedStarted EventType = "FEED_STARTED"
	EventFeedSkipped EventType = "FEED_SKIPPED"
)

// Skip reasons.
const (
	ReasonBusy         = "busy"
	ReasonUncalibrated = "uncalibrated"
	ReasonZeroRun      = "zero_run"
	ReasonNoBirds      = "no_birds"
	ReasonFailed       = "failed"
)

// Event reports a started or skipped motor run.
type Event struct {
	ID       string
	Type     EventType
	Source   Source
	Grams    float64
	Duration time.Duration
	Clamped  bool
	Reason   string // set for skipped runs
	Time     time.Time
}

// EventSink receives feed events. PublishFeed must not block the caller.
type EventSink interface {
	PublishFeed(Event)
}
