package gopg

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/google/uuid"
	"github.com/interactive-solutions/go-dispatch"
)

func NewJobRepository(db *pg.DB) dispatch.JobRepository {
	return &jobRepository{
		db: db,
	}
}

type jobWrapper struct {
	TableName struct{} `sql:"dispatch_jobs, alias:dj" json:"-"`

	*dispatch.Job
}

type jobRepository struct {
	db *pg.DB
}

func (repo *jobRepository) Get(ctx context.Context, id uuid.UUID) (dispatch.Job, error) {
	wrapped := &jobWrapper{
		Job: &dispatch.Job{},
	}

	if err := repo.db.WithContext(ctx).Model(wrapped).Where("dj.id = ?", id).Select(); err != nil {
		if err == pg.ErrNoRows {
			return *wrapped.Job, dispatch.JobNotFoundErr
		}

		return *wrapped.Job, err
	}

	return *wrapped.Job, nil
}

func (repo *jobRepository) Create(ctx context.Context, job *dispatch.Job) error {
	return repo.db.WithContext(ctx).Insert(&jobWrapper{Job: job})
}

func (repo *jobRepository) Update(ctx context.Context, job *dispatch.Job) error {
	return repo.db.WithContext(ctx).Update(&jobWrapper{Job: job})
}

func (repo *jobRepository) GetDue(ctx context.Context, now time.Time) ([]dispatch.Job, error) {
	var jobs []dispatch.Job
	var wrappedJobs []jobWrapper

	err := repo.db.WithContext(ctx).Model(&wrappedJobs).
		Where("state = ?", dispatch.JobScheduled).
		Where("schedule_at <= ?", now).
		Order("schedule_at ASC").
		Select()

	if err != nil {
		if err == pg.ErrNoRows {
			return jobs, nil
		}

		return jobs, err
	}

	for _, j := range wrappedJobs {
		jobs = append(jobs, *j.Job)
	}

	return jobs, nil
}

func (repo *jobRepository) Matching(ctx context.Context, criteria dispatch.JobCriteria) ([]dispatch.Job, int, error) {
	var jobs []dispatch.Job
	var wrappedJobs []jobWrapper

	builder := repo.db.WithContext(ctx).Model(&wrappedJobs).
		Offset(criteria.Offset).
		Limit(criteria.Limit).
		Order("created_at DESC")

	if criteria.Kind != "" {
		builder.Where("kind = ?", criteria.Kind)
	}

	if criteria.State != "" {
		builder.Where("state = ?", criteria.State)
	}

	if criteria.SourceRef != "" {
		builder.Where("source_ref = ?", criteria.SourceRef)
	}

	count, err := builder.SelectAndCount()
	if err != nil && err != pg.ErrNoRows {
		return jobs, 0, err
	}

	for _, job := range wrappedJobs {
		jobs = append(jobs, *job.Job)
	}

	return jobs, count, nil
}

// Complete stores the job and the ledger records of its pass in one transaction.
func (repo *jobRepository) Complete(ctx context.Context, job *dispatch.Job, records []dispatch.DeliveryRecord) error {
	return repo.db.WithContext(ctx).RunInTransaction(func(tx *pg.Tx) error {
		if err := tx.Update(&jobWrapper{Job: job}); err != nil {
			return err
		}

		if len(records) == 0 {
			return nil
		}

		wrapped := make([]ledgerWrapper, 0, len(records))
		for i := range records {
			wrapped = append(wrapped, ledgerWrapper{DeliveryRecord: &records[i]})
		}

		return tx.Insert(&wrapped)
	})
}
