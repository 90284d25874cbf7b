package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

func (o Outcome) Valid() bool {
	return o == OutcomeSent || o == OutcomeFailed
}

// DeliveryRecord is one send attempt for one recipient. Records are never
// updated, they are only appended or purged in bulk.
type DeliveryRecord struct {
	Id    uuid.UUID `sql:",pk,type:uuid" json:"id"`
	JobId uuid.UUID `sql:",type:uuid" json:"jobId"`

	Timestamp       time.Time `sql:",notnull" json:"timestamp"`
	RecipientNumber string    `sql:",notnull" json:"recipientNumber"`
	RecipientName   string    `json:"recipientName,omitempty"`
	RenderedMessage string    `json:"renderedMessage"`

	Outcome          Outcome `sql:",notnull" json:"outcome"`
	SourceKind       JobKind `sql:",notnull" json:"sourceKind"`
	SourceRef        string  `json:"sourceRef,omitempty"`
	ProviderResponse string  `json:"providerResponse"`
}

const numberDisplayLimit = 25

func (r DeliveryRecord) NumberDisplay() string {
	if len(r.RecipientNumber) > numberDisplayLimit {
		return r.RecipientNumber[:numberDisplayLimit] + "..."
	}

	return r.RecipientNumber
}

func (r DeliveryRecord) SourceDisplay() string {
	if r.SourceRef != "" {
		switch r.SourceKind {
		case JobOrderConfirmation:
			return "Sales Order: " + r.SourceRef
		case JobDeliveryConfirmation:
			return "Delivery: " + r.SourceRef
		}
	}

	return r.SourceKind.Label()
}

type LedgerCriteria struct {
	JobId      uuid.UUID
	SourceKind JobKind
	SourceRef  string
	Outcome    Outcome

	Since time.Time
	Until time.Time

	Offset int
	Limit  int
}

type LedgerSummary struct {
	Sent   int             `json:"sent"`
	Failed int             `json:"failed"`
	ByKind map[JobKind]int `json:"byKind"`
}

func (s LedgerSummary) Total() int {
	return s.Sent + s.Failed
}

// Summarize aggregates records in memory. Repositories may compute the same
// numbers in the database instead.
func Summarize(records []DeliveryRecord) LedgerSummary {
	summary := LedgerSummary{ByKind: map[JobKind]int{}}

	for _, r := range records {
		switch r.Outcome {
		case OutcomeSent:
			summary.Sent++
		case OutcomeFailed:
			summary.Failed++
		}

		summary.ByKind[r.SourceKind]++
	}

	return summary
}

type Ledger interface {
	Record(ctx context.Context, record *DeliveryRecord) error
	Matching(ctx context.Context, criteria LedgerCriteria) ([]DeliveryRecord, int, error)
	Summarize(ctx context.Context, criteria LedgerCriteria) (LedgerSummary, error)
	Purge(ctx context.Context) (int, error)
}
