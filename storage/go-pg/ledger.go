package gopg

import (
	"context"

	"github.com/go-pg/pg"
	"github.com/go-pg/pg/orm"
	"github.com/google/uuid"
	"github.com/interactive-solutions/go-dispatch"
)

func NewLedger(db *pg.DB) dispatch.Ledger {
	return &ledger{
		db: db,
	}
}

type ledgerWrapper struct {
	TableName struct{} `sql:"dispatch_ledger, alias:dl" json:"-"`

	*dispatch.DeliveryRecord
}

type ledger struct {
	db *pg.DB
}

func (l *ledger) Record(ctx context.Context, record *dispatch.DeliveryRecord) error {
	if record.Id == uuid.Nil {
		record.Id = uuid.New()
	}

	return l.db.WithContext(ctx).Insert(&ledgerWrapper{DeliveryRecord: record})
}

func filter(builder *orm.Query, criteria dispatch.LedgerCriteria) *orm.Query {
	if criteria.JobId != uuid.Nil {
		builder.Where("job_id = ?", criteria.JobId)
	}

	if criteria.SourceKind != "" {
		builder.Where("source_kind = ?", criteria.SourceKind)
	}

	if criteria.SourceRef != "" {
		builder.Where("source_ref = ?", criteria.SourceRef)
	}

	if criteria.Outcome != "" {
		builder.Where("outcome = ?", criteria.Outcome)
	}

	if !criteria.Since.IsZero() {
		builder.Where("timestamp >= ?", criteria.Since)
	}

	if !criteria.Until.IsZero() {
		builder.Where("timestamp <= ?", criteria.Until)
	}

	return builder
}

func (l *ledger) Matching(ctx context.Context, criteria dispatch.LedgerCriteria) ([]dispatch.DeliveryRecord, int, error) {
	var wrapped []ledgerWrapper
	records := make([]dispatch.DeliveryRecord, 0)

	builder := filter(l.db.WithContext(ctx).Model(&wrapped), criteria).
		Offset(criteria.Offset).
		Order("timestamp DESC")

	if criteria.Limit > 0 {
		builder.Limit(criteria.Limit)
	}

	count, err := builder.SelectAndCount()
	if err != nil && err != pg.ErrNoRows {
		return records, 0, err
	}

	for _, r := range wrapped {
		records = append(records, *r.DeliveryRecord)
	}

	return records, count, nil
}

func (l *ledger) Summarize(ctx context.Context, criteria dispatch.LedgerCriteria) (dispatch.LedgerSummary, error) {
	summary := dispatch.LedgerSummary{ByKind: map[dispatch.JobKind]int{}}

	var rows []struct {
		Outcome    dispatch.Outcome
		SourceKind dispatch.JobKind
		Total      int
	}

	err := filter(l.db.WithContext(ctx).Model((*ledgerWrapper)(nil)), criteria).
		Column("outcome", "source_kind").
		ColumnExpr("count(*) AS total").
		Group("outcome", "source_kind").
		Select(&rows)

	if err != nil && err != pg.ErrNoRows {
		return summary, err
	}

	for _, row := range rows {
		switch row.Outcome {
		case dispatch.OutcomeSent:
			summary.Sent += row.Total
		case dispatch.OutcomeFailed:
			summary.Failed += row.Total
		}

		summary.ByKind[row.SourceKind] += row.Total
	}

	return summary, nil
}

func (l *ledger) Purge(ctx context.Context) (int, error) {
	res, err := l.db.WithContext(ctx).Model((*ledgerWrapper)(nil)).Where("1 = 1").Delete()
	if err != nil {
		return 0, err
	}

	return res.RowsAffected(), nil
}
