package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type jobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]Job

	ledger       *ledgerStub
	failComplete bool
}

func newJobRepository(ledger *ledgerStub) *jobRepository {
	return &jobRepository{jobs: map[uuid.UUID]Job{}, ledger: ledger}
}

func (repo *jobRepository) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	job, ok := repo.jobs[id]
	if !ok {
		return Job{}, JobNotFoundErr
	}

	return job, nil
}

func (repo *jobRepository) Matching(ctx context.Context, criteria JobCriteria) ([]Job, int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var jobs []Job
	for _, job := range repo.jobs {
		if criteria.Kind != "" && job.Kind != criteria.Kind {
			continue
		}

		if criteria.State != "" && job.State != criteria.State {
			continue
		}

		if criteria.SourceRef != "" && job.SourceRef != criteria.SourceRef {
			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, len(jobs), nil
}

func (repo *jobRepository) GetDue(ctx context.Context, now time.Time) ([]Job, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var due []Job
	for _, job := range repo.jobs {
		if job.State == JobScheduled && job.ScheduleAt != nil && !job.ScheduleAt.After(now) {
			due = append(due, job)
		}
	}

	return due, nil
}

func (repo *jobRepository) Create(ctx context.Context, job *Job) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.jobs[job.Id] = *job
	return nil
}

func (repo *jobRepository) Update(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.jobs[job.Id]; !ok {
		return JobNotFoundErr
	}

	repo.jobs[job.Id] = *job
	return nil
}

func (repo *jobRepository) Complete(ctx context.Context, job *Job, records []DeliveryRecord) error {
	if repo.failComplete {
		return errors.New("connection reset")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := repo.Update(ctx, job); err != nil {
		return err
	}

	for i := range records {
		_ = repo.ledger.Record(ctx, &records[i])
	}

	return nil
}

func (repo *jobRepository) state(id uuid.UUID) JobState {
	job, _ := repo.Get(context.Background(), id)
	return job.State
}

type ledgerStub struct {
	mu      sync.Mutex
	records []DeliveryRecord
}

func (l *ledgerStub) Record(ctx context.Context, record *DeliveryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, *record)
	return nil
}

func (l *ledgerStub) Matching(ctx context.Context, criteria LedgerCriteria) ([]DeliveryRecord, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []DeliveryRecord
	for _, r := range l.records {
		if criteria.JobId != uuid.Nil && r.JobId != criteria.JobId {
			continue
		}

		if criteria.SourceKind != "" && r.SourceKind != criteria.SourceKind {
			continue
		}

		if criteria.SourceRef != "" && r.SourceRef != criteria.SourceRef {
			continue
		}

		if criteria.Outcome != "" && r.Outcome != criteria.Outcome {
			continue
		}

		if !criteria.Since.IsZero() && r.Timestamp.Before(criteria.Since) {
			continue
		}

		if !criteria.Until.IsZero() && r.Timestamp.After(criteria.Until) {
			continue
		}

		matched = append(matched, r)
	}

	count := len(matched)

	if criteria.Offset > 0 {
		if criteria.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[criteria.Offset:]
		}
	}

	if criteria.Limit > 0 && len(matched) > criteria.Limit {
		matched = matched[:criteria.Limit]
	}

	return matched, count, nil
}

func (l *ledgerStub) Summarize(ctx context.Context, criteria LedgerCriteria) (LedgerSummary, error) {
	criteria.Offset, criteria.Limit = 0, 0

	records, _, err := l.Matching(ctx, criteria)
	return Summarize(records), err
}

func (l *ledgerStub) Purge(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	deleted := len(l.records)
	l.records = nil

	return deleted, nil
}

func (l *ledgerStub) forJob(id uuid.UUID) []DeliveryRecord {
	records, _, _ := l.Matching(context.Background(), LedgerCriteria{JobId: id})
	return records
}

type configStub struct {
	mu            sync.Mutex
	provider      *ProviderConfig
	notifications []NotificationConfig
}

func connectedProvider() *ProviderConfig {
	return &ProviderConfig{
		Id:              1,
		Name:            "Messaging Settings",
		AccountId:       "AC123",
		AuthSecret:      "secret",
		SenderNumber:    "+15550001",
		ConnectionState: ConnectionConnected,
	}
}

func (c *configStub) Provider(ctx context.Context) (ProviderConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider == nil {
		return ProviderConfig{}, ConfigNotFoundErr
	}

	return *c.provider, nil
}

func (c *configStub) SaveProvider(ctx context.Context, config *ProviderConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if config.Id == 0 {
		config.Id = 1
	}

	saved := *config
	c.provider = &saved

	return nil
}

func (c *configStub) Notifications(ctx context.Context, kind JobKind) ([]NotificationConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var configs []NotificationConfig
	for _, cfg := range c.notifications {
		if cfg.Kind == kind {
			configs = append(configs, cfg)
		}
	}

	return configs, nil
}

func (c *configStub) SaveNotification(ctx context.Context, config *NotificationConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.notifications {
		if c.notifications[i].Id == config.Id {
			c.notifications[i] = *config
			return nil
		}
	}

	c.notifications = append(c.notifications, *config)
	return nil
}

func (c *configStub) CountNotification(ctx context.Context, id uuid.UUID, sent, failed int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.notifications {
		if c.notifications[i].Id == id {
			c.notifications[i].TotalSent += sent
			c.notifications[i].TotalFailed += failed
			return nil
		}
	}

	return ConfigNotFoundErr
}

type transportStub struct {
	mu     sync.Mutex
	sent   []Message
	reject map[string]bool
	panics map[string]bool
}

func (t *transportStub) Send(ctx context.Context, creds Credentials, msg Message) DeliveryOutcome {
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	count := len(t.sent)
	t.mu.Unlock()

	if t.panics[msg.To] {
		panic("transport exploded")
	}

	if t.reject[msg.To] {
		return Rejected(400, "The 'To' number "+msg.To+" is not a valid phone number.")
	}

	return Sent(fmt.Sprintf("SM%d", count), 201)
}

func (t *transportStub) messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]Message(nil), t.sent...)
}

// cancellingTransport cancels the caller context after the first message
// and fails every send made with a cancelled context, like an http client.
type cancellingTransport struct {
	*transportStub

	cancel context.CancelFunc
}

func (t *cancellingTransport) Send(ctx context.Context, creds Credentials, msg Message) DeliveryOutcome {
	if err := ctx.Err(); err != nil {
		return TransportFailure(err.Error())
	}

	outcome := t.transportStub.Send(ctx, creds, msg)
	t.cancel()

	return outcome
}

type inspectingTransport struct {
	*transportStub

	fail bool
}

func (t *inspectingTransport) Account(ctx context.Context, creds Credentials) (AccountInfo, error) {
	if t.fail {
		return AccountInfo{}, errors.New("Authenticate")
	}

	return AccountInfo{FriendlyName: "Shop", Type: "Full", Status: "active"}, nil
}

func (t *inspectingTransport) Balance(ctx context.Context, creds Credentials) (AccountBalance, error) {
	return AccountBalance{Balance: "12.50", Currency: "USD"}, nil
}

func (t *inspectingTransport) UsageToday(ctx context.Context, creds Credentials) (AccountUsage, error) {
	return AccountUsage{}, errors.New("usage unavailable")
}

type templateRepository struct {
	mu        sync.Mutex
	templates map[uuid.UUID]Template
}

func (repo *templateRepository) Get(ctx context.Context, id uuid.UUID) (Template, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	template, ok := repo.templates[id]
	if !ok {
		return Template{}, TemplateNotFoundErr
	}

	return template, nil
}

func (repo *templateRepository) Matching(ctx context.Context, criteria TemplateCriteria) ([]Template, int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	templates := make([]Template, 0, len(repo.templates))
	for _, t := range repo.templates {
		if criteria.Channel == "" || t.Channel == criteria.Channel {
			templates = append(templates, t)
		}
	}

	return templates, len(templates), nil
}

func (repo *templateRepository) Create(ctx context.Context, template *Template) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.templates[template.Id] = *template
	return nil
}

func (repo *templateRepository) Update(ctx context.Context, template *Template) error {
	return repo.Create(ctx, template)
}

func (repo *templateRepository) Delete(ctx context.Context, template *Template) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	delete(repo.templates, template.Id)
	return nil
}

type orderSourceStub struct {
	orders     map[string]OrderContext
	deliveries map[string]DeliveryContext
}

func (s *orderSourceStub) Order(ctx context.Context, ref string) (OrderContext, error) {
	order, ok := s.orders[ref]
	if !ok {
		return order, errors.New("order not found")
	}

	return order, nil
}

func (s *orderSourceStub) Delivery(ctx context.Context, ref string) (DeliveryContext, error) {
	delivery, ok := s.deliveries[ref]
	if !ok {
		return delivery, errors.New("delivery not found")
	}

	return delivery, nil
}
