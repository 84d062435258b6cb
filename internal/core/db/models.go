package db

import "time"

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Book outcome statuses.
const (
	BookStatusOK      = "ok"
	BookStatusSkipped = "skipped"
	BookStatusFailed  = "failed"
)

// Run is one scrape session.
type Run struct {
	ID     string `json:"id"`
	Target string `json:"target"`
	Resume bool   `json:"resume"`
	Status string `json:"status"`
	// StartedAt and FinishedAt are stored as RFC3339 text.
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Books      int        `json:"books"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Highlights int        `json:"highlights"`
	Error      string     `json:"error,omitempty"`
}

// BookOutcome is what happened to one library entry during a run.
type BookOutcome struct {
	ASIN       string    `json:"asin"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status"`
	Highlights int       `json:"highlights"`
	Replaced   bool      `json:"replaced"`
	Warning    string    `json:"warning,omitempty"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RunSummary closes a run.
type RunSummary struct {
	Status     string
	Books      int
	Skipped    int
	Failed     int
	Highlights int
	Error      string
	FinishedAt time.Time
}
