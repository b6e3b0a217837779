package pipeline

import "strings"

// Outcome is the terminal result of processing one message. Every outcome
// is acknowledged at the broker.
type Outcome int

const (
	SkippedDuplicate Outcome = iota
	SkippedNotQueued
	RenderFailed
	ValidationFailed
	Delivered
	Exhausted
)

var outcomeNames = [...]string{
	SkippedDuplicate: "SKIPPED_DUPLICATE",
	SkippedNotQueued: "SKIPPED_NOT_QUEUED",
	RenderFailed:     "RENDER_FAILED",
	ValidationFailed: "VALIDATION_FAILED",
	Delivered:        "DELIVERED",
	Exhausted:        "EXHAUSTED",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "UNKNOWN"
	}
	return outcomeNames[o]
}

// Label is the metrics label form of the outcome.
func (o Outcome) Label() string { return strings.ToLower(o.String()) }

// Success reports whether the outcome needed no dead-letter route.
func (o Outcome) Success() bool {
	return o == Delivered || o == SkippedDuplicate || o == SkippedNotQueued
}
