package sync

import "time"

// EventType identifies an engine notification.
type EventType string

const (
	EventTipSubmitted   EventType = "tip.submitted"
	EventTipQueued      EventType = "tip.queued"
	EventDrainStarted   EventType = "drain.started"
	EventDrainCompleted EventType = "drain.completed"
	EventEntrySubmitted EventType = "queue.entry_submitted"
	EventEntryFailed    EventType = "queue.entry_failed"
	// EventTipUnrecorded means the gateway accepted a push that could not be
	// stored locally. It needs manual reconciliation by TransactionID.
	EventTipUnrecorded  EventType = "tip.unrecorded"
)

// EngineEvent is delivered to the EventHandler.
type EngineEvent struct {
	Type          EventType    `json:"type"`
	IntentID      string       `json:"intent_id,omitempty"`
	WorkerID      string       `json:"worker_id,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Attempts      int          `json:"attempts,omitempty"`
	Error         string       `json:"error,omitempty"`
	Drain         *DrainResult `json:"drain,omitempty"`
	Time          time.Time    `json:"time"`
}

// EventHandler receives engine events. Handlers run on the engine's
// goroutines and must not block.
type EventHandler interface {
	OnEngineEvent(event EngineEvent)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(event EngineEvent)

// OnEngineEvent calls f.
func (f EventHandlerFunc) OnEngineEvent(event EngineEvent) {
	f(event)
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	Attempted    int           `json:"attempted"`
	Submitted    int           `json:"submitted"`
	Deduplicated int           `json:"deduplicated"`
	Failed       int           `json:"failed"`
	// Cancelled counts entries removed from the queue after the snapshot.
	Cancelled int `json:"cancelled"`
	// Skipped counts entries left untouched because the pass stopped early.
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}
