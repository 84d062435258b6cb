package db

import "log/slog"

// ------------------------------
// Event System
// ------------------------------
//
// The DB emits typed events as a scrape run progresses. Register listeners
// to report progress or to react when a run finishes.
//
// Example usage:
//
//	db.RegisterEventListener(db.OnBookRecordedEvent, func(event db.Event) error {
//	    ev := event.(db.BookRecordedEvent)
//	    slog.Info("book processed", "asin", ev.Outcome.ASIN, "status", ev.Outcome.Status)
//	    return nil
//	})
//
// Event is the common interface for all database events.
type Event interface {
	Kind() EventKind
}

// EventKind represents all the kinds of events that can be emitted by the DB.
type EventKind int

const (
	// OnRunStartedEvent is emitted when a run is created.
	OnRunStartedEvent EventKind = iota
	// OnBookRecordedEvent is emitted when a book outcome is recorded.
	OnBookRecordedEvent
	// OnRunFinishedEvent is emitted when a run is closed.
	OnRunFinishedEvent
)

func (k EventKind) String() string {
	switch k {
	case OnRunStartedEvent:
		return "run_started"
	case OnBookRecordedEvent:
		return "book_recorded"
	case OnRunFinishedEvent:
		return "run_finished"
	default:
		return "unknown"
	}
}

// RunStartedEvent is emitted after a run is inserted.
type RunStartedEvent struct {
	Run Run
}

func (e RunStartedEvent) Kind() EventKind { return OnRunStartedEvent }

// BookRecordedEvent is emitted after a book outcome is stored.
type BookRecordedEvent struct {
	RunID   string
	Outcome BookOutcome
}

func (e BookRecordedEvent) Kind() EventKind { return OnBookRecordedEvent }

// RunFinishedEvent carries the run as stored after it was closed.
type RunFinishedEvent struct {
	Run Run
}

func (e RunFinishedEvent) Kind() EventKind { return OnRunFinishedEvent }

// EventListener is a callback that handles events of a specific kind.
type EventListener func(event Event) error

// RegisterEventListener adds a listener for a specific event kind.
// Listeners are called synchronously in registration order after the DB operation succeeds.
func (db *DB) RegisterEventListener(eventKind EventKind, listener EventListener) {
	if db.eventListeners == nil {
		db.eventListeners = make(map[EventKind][]EventListener)
	}
	db.eventListeners[eventKind] = append(db.eventListeners[eventKind], listener)
}

// emit dispatches an event to all registered listeners for that event kind.
func (db *DB) emit(event Event) {
	for _, listener := range db.eventListeners[event.Kind()] {
		if err := listener(event); err != nil {
			slog.Warn("event listener failed", "event", event.Kind().String(), "error", err)
		}
	}
}
