package logging

import (
	"time"
)

// LogEvent is a single structured log record as produced by the application
// or parsed from a source. The shipping pipeline treats it as immutable.
type LogEvent struct {
	Timestamp       time.Time
	Level           string
	MessageTemplate string
	RenderedMessage string
	Properties      map[string]any
	Exception       string
}

type BatchProcessor interface {
	AddEvent(event LogEvent)
	Start()
	Stop()
}

// BatchWriter delivers one batch of events to the destination.
// The boolean tells the scheduler whether the batch was delivered;
// an error is reserved for conditions that make delivery impossible
// (for example a malformed shared key).
type BatchWriter interface {
	WriteBatch(events []LogEvent) (bool, error)
}

type Config struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
}
