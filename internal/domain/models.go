package domain

import "time"

// Job statuses. A job row leaves JobRunning exactly once.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// ScanJob is one execution of the ingestion pipeline.
type ScanJob struct {
	ID            string     `json:"id"`
	Label         string     `json:"label"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// NormalizedItem is a unit of ingested content produced by a source adapter.
type NormalizedItem struct {
	Text        string
	URL         string
	Title       string
	PublishedAt *time.Time
	SourceTag   string
	SourceID    string
}

// DealCandidate is the structured output of the extraction collaborator.
type DealCandidate struct {
	Company        string   `json:"company"`
	Category       string   `json:"category"`
	AmountUSD      int64    `json:"amount_usd"`
	AnnouncedDate  string   `json:"announced_date"` // YYYY-MM-DD, may be empty
	Investors      []string `json:"investors"`
	Confidence     float64  `json:"confidence"`
	IsFundingEvent bool     `json:"is_funding_event"`
}

// Announced parses the candidate's announcement date, nil when absent or malformed.
func (c *DealCandidate) Announced() *time.Time {
	if c.AnnouncedDate == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", c.AnnouncedDate)
	if err != nil {
		return nil
	}
	return &t
}

// Deal is a persisted funding record.
type Deal struct {
	ID             int64
	Company        string
	Category       string
	AmountUSD      int64
	AnnouncedDate  *time.Time
	Investors      []string
	DedupKey       string
	AmountDedupKey string // empty when amount is below the significance threshold
	SourceURL      string
	SourceTag      string
	CreatedAt      time.Time
}

// ItemStatus is the terminal outcome of processing one item.
type ItemStatus string

const (
	StatusSaved            ItemStatus = "saved"
	StatusDuplicate        ItemStatus = "duplicate"
	StatusLowConfidence    ItemStatus = "rejected_low_confidence"
	StatusNotFundingEvent  ItemStatus = "rejected_not_an_event"
	StatusInvalidSubject   ItemStatus = "rejected_invalid_subject"
	StatusExtractionFailed ItemStatus = "extraction_failed"
	StatusError            ItemStatus = "error"
)

// RunStats aggregates the outcome of one orchestrator run.
type RunStats struct {
	SourcesTotal     int
	SourcesFailed    int
	SourcesEmpty     int
	ItemsFetched     int
	ItemsPrefiltered int
	ItemsSeenText    int
	Outcomes         map[ItemStatus]int
}

// NewRunStats returns stats with the outcome map initialised.
func NewRunStats() *RunStats {
	return &RunStats{Outcomes: map[ItemStatus]int{}}
}

// Saved reports how many items produced a new stored record.
func (s *RunStats) Saved() int { return s.Outcomes[StatusSaved] }

// Errors reports how many items ended in a hard failure.
func (s *RunStats) Errors() int {
	return s.Outcomes[StatusError] + s.Outcomes[StatusExtractionFailed]
}
