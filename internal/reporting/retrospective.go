package reporting

import (
	"sync"
	"time"
)

// Outcome statuses beyond the poller's terminal statuses.
const (
	StatusSuccess          = "success"
	StatusFailed           = "failed"
	StatusTimeout          = "timeout"
	StatusError            = "error"
	StatusCancelled        = "cancelled"
	StatusInitiationFailed = "initiation_failed"
	StatusDenied           = "denied"
)

// OutcomeRecord is the final outcome of one payment attempt.
type OutcomeRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	SessionID       string    `json:"sessionId,omitempty"`
	Status          string    `json:"status"`
	Amount          int64     `json:"amount"`
	Provider        string    `json:"provider"`
	TransactionType string    `json:"transactionType"`
	Attempts        int       `json:"attempts"`
	Polled          bool      `json:"polled"` // false when no status check loop ran
	Message         string    `json:"message,omitempty"`
}

// RetrospectiveReport summarizes payment outcomes.
type RetrospectiveReport struct {
	TotalSessions        int              `json:"totalSessions"`
	Confirmed            int              `json:"confirmed"`
	Failed               int              `json:"failed"`
	TimedOut             int              `json:"timedOut"`
	Errored              int              `json:"errored"`
	Cancelled            int              `json:"cancelled"`
	InitiationFailures   int              `json:"initiationFailures"`
	Denied               int              `json:"denied"`
	ConfirmedWithoutPoll int              `json:"confirmedWithoutPoll"`
	TotalAmountConfirmed int64            `json:"totalAmountConfirmed"`
	AmountByProvider     map[string]int64 `json:"amountByProvider"`     // confirmed amounts only
	TransactionTypeUsage map[string]int   `json:"transactionTypeUsage"` // every outcome
	AverageAttempts      float64          `json:"averageAttempts"`      // over polled sessions
	DateFrom             time.Time        `json:"dateFrom"`
	DateTo               time.Time        `json:"dateTo"`
	ProcessingDuration   time.Duration    `json:"processingDuration"`
}

// RetrospectiveReporter generates retrospective reports from outcome records.
type RetrospectiveReporter struct{}

// NewRetrospectiveReporter creates a new RetrospectiveReporter.
func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective analyzes records and produces a RetrospectiveReport.
func (rr *RetrospectiveReporter) GenerateRetrospective(records []OutcomeRecord) (*RetrospectiveReport, error) {
	report := &RetrospectiveReport{
		AmountByProvider:     make(map[string]int64),
		TransactionTypeUsage: make(map[string]int),
	}
	if len(records) == 0 {
		return report, nil
	}

	report.DateFrom = records[0].Timestamp
	report.DateTo = records[0].Timestamp
	polled, attempts := 0, 0
	for _, rec := range records {
		report.TotalSessions++

		if rec.Timestamp.Before(report.DateFrom) {
			report.DateFrom = rec.Timestamp
		}
		if rec.Timestamp.After(report.DateTo) {
			report.DateTo = rec.Timestamp
		}
		if rec.TransactionType != "" {
			report.TransactionTypeUsage[rec.TransactionType]++
		}
		if rec.Polled {
			polled++
			attempts += rec.Attempts
		}

		switch rec.Status {
		case StatusSuccess:
			report.Confirmed++
			report.TotalAmountConfirmed += rec.Amount
			report.AmountByProvider[rec.Provider] += rec.Amount
			if !rec.Polled {
				report.ConfirmedWithoutPoll++
			}
		case StatusFailed:
			report.Failed++
		case StatusTimeout:
			report.TimedOut++
		case StatusError:
			report.Errored++
		case StatusCancelled:
			report.Cancelled++
		case StatusInitiationFailed:
			report.InitiationFailures++
		case StatusDenied:
			report.Denied++
		}
	}

	if polled > 0 {
		report.AverageAttempts = float64(attempts) / float64(polled)
	}
	report.ProcessingDuration = report.DateTo.Sub(report.DateFrom)
	return report, nil
}

const defaultRecorderCapacity = 1000

// Recorder keeps the most recent outcomes in memory.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	records  []OutcomeRecord
	next     int
	full     bool
}

// NewRecorder keeps at most capacity records; older ones are overwritten.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	return &Recorder{capacity: capacity, records: make([]OutcomeRecord, 0, capacity)}
}

// Record appends an outcome. A zero Timestamp is set to now.
func (r *Recorder) Record(rec OutcomeRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		r.records = append(r.records, rec)
		if len(r.records) == r.capacity {
			r.full = true
		}
		return
	}
	r.records[r.next] = rec
	r.next = (r.next + 1) % r.capacity
}

// Records returns the kept outcomes, oldest first.
func (r *Recorder) Records() []OutcomeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutcomeRecord, 0, len(r.records))
	if r.full {
		out = append(out, r.records[r.next:]...)
		out = append(out, r.records[:r.next]...)
		return out
	}
	return append(out, r.records...)
}
