package pipeline

import (
	"time"

	"animehub/internal/bucket"
	"animehub/internal/scraper"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Counts tracks how many records each stage produced.
type Counts struct {
	Fetched    int          `json:"fetched"`
	New        int          `json:"new"`
	Valid      int          `json:"valid"`
	Loaded     int          `json:"loaded"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
	Dropped    bucket.Drops `json:"dropped"`
}

// Summary is the user-visible outcome of one run.
type Summary struct {
	RunID      string             `json:"run_id"`
	Status     string             `json:"status"`
	Stage      Stage              `json:"stage"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	StartPage  int                `json:"start_page"`
	FinalPage  int                `json:"final_page"`
	StopReason scraper.StopReason `json:"stop_reason,omitempty"`
	Counts     Counts             `json:"counts"`
	Artifacts  []string           `json:"artifacts,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func (s Summary) Failed() bool { return s.Status == StatusFailed }

func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Event is published on every stage transition.
type Event struct {
	Type   string    `json:"type"`
	RunID  string    `json:"run_id"`
	Stage  Stage     `json:"stage"`
	At     time.Time `json:"at"`
	Counts Counts    `json:"counts"`
	Error  string    `json:"error,omitempty"`
}

const EventStage = "run.stage"

// Publisher receives stage events. Publish must not block the run.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }
