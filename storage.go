package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	TemplateNotFoundErr = errors.New("The template was not found")
	JobNotFoundErr      = errors.New("The job was not found")
	ConfigNotFoundErr   = errors.New("The provider configuration was not found")
)

type TemplateRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Template, error)
	Matching(ctx context.Context, criteria TemplateCriteria) ([]Template, int, error)

	Create(ctx context.Context, template *Template) error
	Update(ctx context.Context, template *Template) error
	Delete(ctx context.Context, template *Template) error
}

type JobRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Job, error)
	Matching(ctx context.Context, criteria JobCriteria) ([]Job, int, error)

	// GetDue returns scheduled jobs whose schedule is at or before now.
	GetDue(ctx context.Context, now time.Time) ([]Job, error)

	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error

	// Complete stores the result of an execution pass together with its
	// ledger records, all or nothing.
	Complete(ctx context.Context, job *Job, records []DeliveryRecord) error
}

type ConfigRepository interface {
	// Provider returns the live provider config or ConfigNotFoundErr.
	Provider(ctx context.Context) (ProviderConfig, error)
	SaveProvider(ctx context.Context, config *ProviderConfig) error

	// Notifications returns the configs of kind ordered by creation time.
	Notifications(ctx context.Context, kind JobKind) ([]NotificationConfig, error)
	SaveNotification(ctx context.Context, config *NotificationConfig) error
	CountNotification(ctx context.Context, id uuid.UUID, sent, failed int) error
}
