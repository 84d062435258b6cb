package db

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEventKindString tests the String method on EventKind.
func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind     EventKind
		expected string
	}{
		{OnRunStartedEvent, "run_started"},
		{OnBookRecordedEvent, "book_recorded"},
		{OnRunFinishedEvent, "run_finished"},
		{EventKind(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.String())
		})
	}
}

// TestEventTypes tests that event types return correct Kind.
func TestEventTypes(t *testing.T) {
	assert.Equal(t, OnRunStartedEvent, RunStartedEvent{}.Kind())
	assert.Equal(t, OnBookRecordedEvent, BookRecordedEvent{}.Kind())
	assert.Equal(t, OnRunFinishedEvent, RunFinishedEvent{}.Kind())
}

// TestRunLifecycleEvents checks that every ledger write emits its event.
func TestRunLifecycleEvents(t *testing.T) {
	db := newTestDB(t)

	var kinds []EventKind
	var recorded BookOutcome
	var finished Run
	for _, kind := range []EventKind{OnRunStartedEvent, OnBookRecordedEvent, OnRunFinishedEvent} {
		db.RegisterEventListener(kind, func(event Event) error {
			kinds = append(kinds, event.Kind())
			switch ev := event.(type) {
			case BookRecordedEvent:
				recorded = ev.Outcome
			case RunFinishedEvent:
				finished = ev.Run
			}
			return nil
		})
	}

	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	run, err := db.StartRun("all", true, now)
	require.NoError(t, err)
	require.NoError(t, db.RecordBook(run.ID, BookOutcome{ASIN: "B1", Status: BookStatusOK, Highlights: 3}))
	require.NoError(t, db.FinishRun(run.ID, RunSummary{Status: RunStatusCompleted, Books: 1, Highlights: 3}))

	assert.Equal(t, []EventKind{OnRunStartedEvent, OnBookRecordedEvent, OnRunFinishedEvent}, kinds)
	assert.Equal(t, "B1", recorded.ASIN)
	assert.Equal(t, RunStatusCompleted, finished.Status)
	assert.NotNil(t, finished.FinishedAt)
}

// TestListenerErrorsDoNotFailWrites checks that a failing listener is only logged.
func TestListenerErrorsDoNotFailWrites(t *testing.T) {
	db := newTestDB(t)

	calls := 0
	db.RegisterEventListener(OnRunStartedEvent, func(Event) error {
		calls++
		return errors.New("listener failed")
	})
	db.RegisterEventListener(OnRunStartedEvent, func(Event) error {
		calls++
		return nil
	})

	_, err := db.StartRun("all", false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expected both listeners to run")
}

// TestRegisterEventListenerNilMap tests registration on a zero DB.
func TestRegisterEventListenerNilMap(t *testing.T) {
	db := &DB{}
	db.RegisterEventListener(OnRunFinishedEvent, func(Event) error { return nil })
	assert.Len(t, db.eventListeners[OnRunFinishedEvent], 1)
}
