package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const UserAgent = "InteractiveSolutions/GoDispatch-1.0"

var (
	JobAlreadyExecutedErr = errors.New("The job has already been executed")
	JobNotExecutedErr     = errors.New("The job has not been executed yet")
	JobNotScheduledErr    = errors.New("The job is not scheduled")
	JobInFlightErr        = errors.New("The job is already being executed")

	NotificationDisabledErr = errors.New("No active notification configuration")
	AlreadyNotifiedErr      = errors.New("A notification was already sent for this record")
	NoContactNumberErr      = errors.New("No mobile or phone number found for the customer")

	NoOrderSourceErr      = errors.New("No order source configured")
	NoAccountInspectorErr = errors.New("The transport cannot inspect the provider account")
)

type Application interface {
	HttpHandler() *HttpHandler

	Submit(ctx context.Context, job *Job) (Job, error)
	Execute(ctx context.Context, id uuid.UUID) (Job, error)
	Resend(ctx context.Context, id uuid.UUID) (Job, error)
	Unschedule(ctx context.Context, id uuid.UUID) (Job, error)
	Sweep(ctx context.Context, now time.Time) SweepResult

	NotifyOrderConfirmed(ctx context.Context, order OrderContext, force bool) (Job, error)
	NotifyDeliveryValidated(ctx context.Context, delivery DeliveryContext, force bool) (Job, error)

	Preview(kind JobKind, body string) string
	ExportJob(ctx context.Context, id uuid.UUID, outcome Outcome) (string, []byte, error)

	TestConnection(ctx context.Context) (ProviderConfig, error)
	RefreshUsage(ctx context.Context) (ProviderConfig, error)
	Disconnect(ctx context.Context) (ProviderConfig, error)

	Start(ctx context.Context)
	Shutdown(ctx context.Context)
}

type SweepResult struct {
	Due      int `json:"due"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

type AppOption func(a *application)

func SetLogger(logger logrus.FieldLogger) AppOption {
	return func(a *application) {
		a.logger = logger
	}
}

func SetTransport(transport Transport) AppOption {
	return func(a *application) {
		a.transport = transport
	}
}

func SetJobRepo(repo JobRepository) AppOption {
	return func(a *application) {
		a.jobRepo = repo
	}
}

func SetLedger(ledger Ledger) AppOption {
	return func(a *application) {
		a.ledger = ledger
	}
}

func SetConfigRepo(repo ConfigRepository) AppOption {
	return func(a *application) {
		a.configRepo = repo
	}
}

func SetTemplateRepo(repo TemplateRepository) AppOption {
	return func(a *application) {
		a.templateRepo = repo
	}
}

func SetOrderSource(source OrderSource) AppOption {
	return func(a *application) {
		a.orderSource = source
	}
}

func SetWorkerCount(count int) AppOption {
	return func(a *application) {
		a.workerCount = count
	}
}

func SetSweepInterval(interval time.Duration) AppOption {
	return func(a *application) {
		a.sweepInterval = interval
	}
}

func SetClock(now func() time.Time) AppOption {
	return func(a *application) {
		a.now = now
	}
}

type application struct {
	logger logrus.FieldLogger
	now    func() time.Time

	sweepInterval time.Duration
	sweepCancel   context.CancelFunc
	sweepDone     chan struct{}

	workerCount int

	inflightMu sync.Mutex
	inflight   map[uuid.UUID]struct{}

	transport    Transport
	jobRepo      JobRepository
	ledger       Ledger
	configRepo   ConfigRepository
	templateRepo TemplateRepository
	orderSource  OrderSource
}

func NewApplication(options ...AppOption) (Application, error) {
	app := &application{
		logger: logrus.New(),
		now:    time.Now,

		sweepInterval: time.Minute,
		workerCount:   5,

		inflight: map[uuid.UUID]struct{}{},
	}

	for _, option := range options {
		option(app)
	}

	if err := app.ensureUsableConfiguration(); err != nil {
		return app, err
	}

	return app, nil
}

func (a *application) HttpHandler() *HttpHandler {
	return &HttpHandler{
		app: a,
	}
}

func (a *application) ensureUsableConfiguration() error {
	if a.transport == nil {
		return errors.New("Missing transport")
	}

	if a.jobRepo == nil {
		return errors.New("Missing job repository")
	}

	if a.ledger == nil {
		return errors.New("Missing ledger")
	}

	if a.configRepo == nil {
		return errors.New("Missing configuration repository")
	}

	if a.workerCount < 1 {
		a.workerCount = 1
	}

	if a.sweepInterval <= 0 {
		a.sweepInterval = time.Minute
	}

	return nil
}

// Submit validates and stores a new job, then either schedules it or executes it right away.
func (a *application) Submit(ctx context.Context, job *Job) (Job, error) {
	now := a.now().UTC()

	if job.Id == uuid.Nil {
		job.Id = uuid.New()
	}

	job.State = JobDraft
	job.SentCount = 0
	job.FailedCount = 0
	job.ExecutedAt = nil
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := job.Validate(now); err != nil {
		return *job, err
	}

	if _, err := job.Body(); err != nil {
		return *job, err
	}

	if job.DueAfter(now) {
		job.State = JobScheduled
	}

	if err := a.jobRepo.Create(ctx, job); err != nil {
		return *job, errors.Wrap(err, "failed to store job")
	}

	if job.State == JobScheduled {
		a.logger.
			WithField("job", job.Id).
			WithField("scheduleAt", job.ScheduleAt).
			Info("job scheduled")

		return *job, nil
	}

	return a.Execute(ctx, job.Id)
}

func (a *application) Execute(ctx context.Context, id uuid.UUID) (Job, error) {
	return a.run(ctx, id, func(job *Job) error {
		if job.State.IsTerminal() {
			return JobAlreadyExecutedErr
		}

		return nil
	})
}

// Resend runs a finished job again under the same id. The counts of the
// previous pass are replaced once the new pass completes.
func (a *application) Resend(ctx context.Context, id uuid.UUID) (Job, error) {
	return a.run(ctx, id, func(job *Job) error {
		if !job.State.IsTerminal() {
			return JobNotExecutedErr
		}

		job.State = JobDraft
		job.SentCount = 0
		job.FailedCount = 0

		return nil
	})
}

// Unschedule moves a scheduled job back to draft by clearing its schedule.
func (a *application) Unschedule(ctx context.Context, id uuid.UUID) (Job, error) {
	if !a.acquire(id) {
		return Job{}, JobInFlightErr
	}
	defer a.release(id)

	job, err := a.jobRepo.Get(ctx, id)
	if err != nil {
		return job, err
	}

	if job.State != JobScheduled {
		return job, JobNotScheduledErr
	}

	job.ScheduleAt = nil
	job.State = JobDraft
	job.UpdatedAt = a.now().UTC()

	return job, a.jobRepo.Update(ctx, &job)
}

func (a *application) run(ctx context.Context, id uuid.UUID, prepare func(job *Job) error) (Job, error) {
	if !a.acquire(id) {
		return Job{}, JobInFlightErr
	}
	defer a.release(id)

	job, err := a.jobRepo.Get(ctx, id)
	if err != nil {
		return job, err
	}

	if err := prepare(&job); err != nil {
		return job, err
	}

	return job, a.execute(ctx, &job)
}

func (a *application) acquire(id uuid.UUID) bool {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()

	if _, busy := a.inflight[id]; busy {
		return false
	}

	a.inflight[id] = struct{}{}
	return true
}

func (a *application) release(id uuid.UUID) {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()

	delete(a.inflight, id)
}

func (a *application) providerConfig(ctx context.Context) (ProviderConfig, error) {
	cfg, err := a.configRepo.Provider(ctx)
	if errors.Cause(err) == ConfigNotFoundErr {
		return cfg, &ConfigurationError{Reason: "Please configure the messaging provider in settings first"}
	}

	return cfg, err
}

// execute runs one pass over every recipient of job. Only pre-flight problems
// are returned, per recipient failures end up in the ledger.
func (a *application) execute(ctx context.Context, job *Job) error {
	logger := a.logger.WithField("job", job.Id).WithField("kind", job.Kind)

	cfg, err := a.providerConfig(ctx)
	if err != nil {
		return err
	}

	if err := cfg.Usable(job.Channel); err != nil {
		return err
	}

	if len(job.Recipients) == 0 {
		return NoRecipientsErr
	}

	body, err := job.Body()
	if err != nil {
		return err
	}

	// once the first message may go out the pass is no longer cancellable,
	// every recipient is attempted and the result is stored
	ctx = context.WithoutCancel(ctx)

	startedAt := a.now().UTC()
	records := make([]DeliveryRecord, 0, len(job.Recipients))
	sent, failed := 0, 0

	for _, recipient := range job.Recipients {
		record := a.deliver(ctx, cfg, job, body, recipient)
		records = append(records, record)

		if record.Outcome == OutcomeSent {
			sent++
		} else {
			failed++
		}
	}

	job.SentCount = sent
	job.FailedCount = failed
	job.State = Classify(sent, failed)
	job.ExecutedAt = &startedAt
	job.UpdatedAt = a.now().UTC()

	jobsTotal.WithLabelValues(string(job.Kind), string(job.State)).Inc()

	logger.
		WithField("sent", sent).
		WithField("failed", failed).
		WithField("state", job.State).
		Info("job executed")

	if err := a.jobRepo.Complete(ctx, job, records); err != nil {
		logger.WithError(err).Error("failed to store execution pass, storing job and ledger separately")

		for i := range records {
			if err := a.ledger.Record(ctx, &records[i]); err != nil {
				logger.
					WithField("recipient", records[i].RecipientNumber).
					WithError(err).
					Error("failed to append ledger record")
			}
		}

		if err := a.jobRepo.Update(ctx, job); err != nil {
			return errors.Wrap(err, "failed to update job after execution")
		}
	}

	return nil
}

func (a *application) deliver(ctx context.Context, cfg ProviderConfig, job *Job, body string, recipient Recipient) DeliveryRecord {
	record := DeliveryRecord{
		Id:              uuid.New(),
		JobId:           job.Id,
		Timestamp:       a.now().UTC(),
		RecipientNumber: recipient.Number,
		RecipientName:   recipient.Name,
		RenderedMessage: body,
		SourceKind:      job.Kind,
		SourceRef:       job.SourceRef,
	}

	number, err := Normalize(recipient.Number, recipient.CountryCode)
	if err != nil {
		record.Outcome = OutcomeFailed
		record.ProviderResponse = err.Error()
		messagesTotal.WithLabelValues(string(job.Channel), string(OutcomeFailed)).Inc()

		return record
	}

	record.RecipientNumber = number

	outcome := a.transport.Send(ctx, cfg.Credentials(), Message{
		To:      number,
		From:    cfg.Sender(job.Channel),
		Body:    body,
		Channel: job.Channel,
	})

	record.ProviderResponse = outcome.Response()
	if outcome.Delivered() {
		record.Outcome = OutcomeSent
	} else {
		record.Outcome = OutcomeFailed

		a.logger.
			WithField("job", job.Id).
			WithField("recipient", number).
			WithField("outcome", outcome.Status).
			Warn(record.ProviderResponse)
	}

	messagesTotal.WithLabelValues(string(job.Channel), string(record.Outcome)).Inc()

	return record
}

// Sweep executes every scheduled job that is due at now. A failing job is
// marked failed and never stops the remaining jobs.
func (a *application) Sweep(ctx context.Context, now time.Time) SweepResult {
	start := time.Now()
	defer func() {
		sweepDuration.Observe(time.Since(start).Seconds())
	}()

	result := SweepResult{}

	jobs, err := a.jobRepo.GetDue(ctx, now)
	if err != nil {
		a.logger.WithError(err).Error("failed to load due jobs")
		return result
	}

	sweepDueJobs.Set(float64(len(jobs)))
	if len(jobs) == 0 {
		return result
	}

	queue := make(chan uuid.UUID)
	wg := sync.WaitGroup{}
	mu := sync.Mutex{}

	workers := a.workerCount
	if workers > len(jobs) {
		workers = len(jobs)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for id := range queue {
				outcome := a.sweepOne(ctx, id)

				mu.Lock()
				switch outcome {
				case sweepExecuted:
					result.Executed++
				case sweepFailed:
					result.Failed++
				default:
					result.Skipped++
				}
				mu.Unlock()
			}
		}()
	}

	seen := map[uuid.UUID]bool{}
	for _, job := range jobs {
		if seen[job.Id] {
			continue
		}

		seen[job.Id] = true
		result.Due++
		queue <- job.Id
	}

	close(queue)
	wg.Wait()

	a.logger.
		WithField("due", result.Due).
		WithField("executed", result.Executed).
		WithField("failed", result.Failed).
		WithField("skipped", result.Skipped).
		Info("sweep finished")

	return result
}

type sweepOutcome int

const (
	sweepExecuted sweepOutcome = iota
	sweepFailed
	sweepSkipped
)

func (a *application) sweepOne(ctx context.Context, id uuid.UUID) (outcome sweepOutcome) {
	logger := a.logger.WithField("job", id)

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("job execution panicked")
			a.markFailed(ctx, id)
			outcome = sweepFailed
		}
	}()

	_, err := a.run(ctx, id, func(job *Job) error {
		if job.State != JobScheduled {
			return JobNotScheduledErr
		}

		return nil
	})

	switch errors.Cause(err) {
	case nil:
		return sweepExecuted

	case JobNotScheduledErr, JobInFlightErr:
		return sweepSkipped

	default:
		logger.WithError(err).Error("failed to execute scheduled job")
		a.markFailed(ctx, id)

		return sweepFailed
	}
}

func (a *application) markFailed(ctx context.Context, id uuid.UUID) {
	ctx = context.WithoutCancel(ctx)

	job, err := a.jobRepo.Get(ctx, id)
	if err != nil {
		a.logger.WithField("job", id).WithError(err).Error("failed to load job to mark it failed")
		return
	}

	if job.State.IsTerminal() {
		return
	}

	job.State = JobFailed
	job.UpdatedAt = a.now().UTC()

	if err := a.jobRepo.Update(ctx, &job); err != nil {
		a.logger.WithField("job", id).WithError(err).Error("failed to mark job failed")
	}
}

func (a *application) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	a.sweepCancel = cancel
	a.sweepDone = make(chan struct{})

	go func() {
		defer close(a.sweepDone)

		ticker := time.NewTicker(a.sweepInterval)
		defer ticker.Stop()

		a.Sweep(ctx, a.now().UTC())

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				a.Sweep(ctx, a.now().UTC())
			}
		}
	}()
}

func (a *application) Shutdown(ctx context.Context) {
	if a.sweepCancel == nil {
		return
	}

	a.sweepCancel()

	select {
	case <-a.sweepDone:
	case <-ctx.Done():
	}
}

func (a *application) NotifyOrderConfirmed(ctx context.Context, order OrderContext, force bool) (Job, error) {
	recipient := Recipient{Number: order.Number(), Name: order.PartnerName, CountryCode: order.CountryCode}

	return a.notify(ctx, JobOrderConfirmation, order.Name, recipient, order.TemplateContext(), force)
}

func (a *application) NotifyDeliveryValidated(ctx context.Context, delivery DeliveryContext, force bool) (Job, error) {
	recipient := Recipient{Number: delivery.Number(), Name: delivery.PartnerName, CountryCode: delivery.CountryCode}

	return a.notify(ctx, JobDeliveryConfirmation, delivery.Name, recipient, delivery.TemplateContext(), force)
}

func (a *application) notify(ctx context.Context, kind JobKind, ref string, recipient Recipient, tplCtx TemplateContext, force bool) (Job, error) {
	logger := a.logger.WithField("kind", kind).WithField("sourceRef", ref)

	configs, err := a.configRepo.Notifications(ctx, kind)
	if err != nil {
		return Job{}, errors.Wrap(err, "failed to load notification configuration")
	}

	cfg, ok := PickActive(configs, Policy(kind))
	if !ok {
		logger.Info("no active notification configuration, skipping")
		return Job{}, NotificationDisabledErr
	}

	if !force {
		_, count, err := a.ledger.Matching(ctx, LedgerCriteria{
			SourceKind: kind,
			SourceRef:  ref,
			Outcome:    OutcomeSent,
			Limit:      1,
		})
		if err != nil {
			return Job{}, errors.Wrap(err, "failed to look up previous notifications")
		}

		if count > 0 {
			logger.Info("notification already sent, skipping")
			return Job{}, AlreadyNotifiedErr
		}
	}

	if recipient.Number == "" {
		logger.WithField("partner", recipient.Name).Warn("no mobile number found for customer")
		return Job{}, NoContactNumberErr
	}

	job := NewJob(kind, ChannelSms, cfg.MessageTemplate, []Recipient{recipient}, nil)
	job.Name = cfg.Name
	job.Context = tplCtx
	job.SourceRef = ref

	result, err := a.Submit(ctx, job)
	if err != nil {
		return result, err
	}

	if err := a.configRepo.CountNotification(context.WithoutCancel(ctx), cfg.Id, result.SentCount, result.FailedCount); err != nil {
		logger.WithError(err).Error("failed to update notification counters")
	}

	return result, nil
}

// Preview renders body the way kind would render it, using sample data.
func (a *application) Preview(kind JobKind, body string) string {
	if !kind.Contextual() {
		return body
	}

	return Preview(body, SampleContext(kind))
}

// ExportJob exports the records of the latest pass of a job.
func (a *application) ExportJob(ctx context.Context, id uuid.UUID, outcome Outcome) (string, []byte, error) {
	job, err := a.jobRepo.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}

	if job.ExecutedAt == nil {
		return "", nil, JobNotExecutedErr
	}

	records, _, err := a.ledger.Matching(ctx, LedgerCriteria{
		JobId:   id,
		Outcome: outcome,
		Since:   *job.ExecutedAt,
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to load ledger records")
	}

	return ExportReport(id, records, outcome)
}

func (a *application) inspector() (AccountInspector, error) {
	inspector, ok := a.transport.(AccountInspector)
	if !ok {
		return nil, NoAccountInspectorErr
	}

	return inspector, nil
}

// TestConnection verifies the stored credentials against the provider and records the result.
func (a *application) TestConnection(ctx context.Context) (ProviderConfig, error) {
	cfg, err := a.configRepo.Provider(ctx)
	if err != nil && errors.Cause(err) != ConfigNotFoundErr {
		return cfg, err
	}

	if blank(cfg.AccountId) || blank(cfg.AuthSecret) {
		return cfg, &ConfigurationError{Reason: "Please enter both account id and auth token"}
	}

	if blank(cfg.SenderNumber) {
		return cfg, &ConfigurationError{Reason: "Please enter a valid sender number"}
	}

	inspector, err := a.inspector()
	if err != nil {
		return cfg, err
	}

	info, err := inspector.Account(ctx, cfg.Credentials())
	if err != nil {
		cfg.ConnectionState = ConnectionFailed

		if saveErr := a.configRepo.SaveProvider(ctx, &cfg); saveErr != nil {
			a.logger.WithError(saveErr).Error("failed to store provider connection state")
		}

		return cfg, errors.Wrap(err, "Connection Failed")
	}

	now := a.now().UTC()
	cfg.ConnectionState = ConnectionConnected
	cfg.LastTested = &now
	cfg.AccountType = firstNonBlank(info.Type, "N/A")
	cfg.AccountName = firstNonBlank(info.FriendlyName, "N/A")

	a.refreshUsage(ctx, inspector, &cfg)

	return cfg, a.configRepo.SaveProvider(ctx, &cfg)
}

func (a *application) RefreshUsage(ctx context.Context) (ProviderConfig, error) {
	cfg, err := a.providerConfig(ctx)
	if err != nil {
		return cfg, err
	}

	if cfg.ConnectionState != ConnectionConnected {
		return cfg, &ConfigurationError{Reason: "The messaging provider is not connected"}
	}

	inspector, err := a.inspector()
	if err != nil {
		return cfg, err
	}

	a.refreshUsage(ctx, inspector, &cfg)

	return cfg, a.configRepo.SaveProvider(ctx, &cfg)
}

// refreshUsage never fails, figures that cannot be fetched fall back to zero.
func (a *application) refreshUsage(ctx context.Context, inspector AccountInspector, cfg *ProviderConfig) {
	creds := cfg.Credentials()

	cfg.Balance = "0"
	if balance, err := inspector.Balance(ctx, creds); err != nil {
		a.logger.WithError(err).Warn("failed to fetch account balance")
	} else {
		cfg.Balance = fmt.Sprintf("%s %s", firstNonBlank(balance.Balance, "0"), balance.Currency)
	}

	cfg.MessagesToday, cfg.BillToday = "0", "0"
	if usage, err := inspector.UsageToday(ctx, creds); err != nil {
		a.logger.WithError(err).Warn("failed to fetch account usage")
	} else {
		cfg.MessagesToday = firstNonBlank(usage.Messages, "0")
		cfg.BillToday = firstNonBlank(usage.Price, "0")
	}
}

func (a *application) Disconnect(ctx context.Context) (ProviderConfig, error) {
	cfg, err := a.providerConfig(ctx)
	if err != nil {
		return cfg, err
	}

	cleared := ProviderConfig{
		Id:              cfg.Id,
		Name:            cfg.Name,
		ConnectionState: ConnectionUnknown,
	}

	return cleared, a.configRepo.SaveProvider(ctx, &cleared)
}
