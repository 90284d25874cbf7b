package gopg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-pg/pg"
	"github.com/go-pg/pg/orm"
	"github.com/google/uuid"
	"github.com/interactive-solutions/go-dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// The repositories run against a real postgres, set DISPATCH_TEST_DB_ADDR
// (e.g. localhost:5432) to enable them. The tables are dropped afterwards.
func TestRepositories(t *testing.T) {
	addr := os.Getenv("DISPATCH_TEST_DB_ADDR")
	if addr == "" {
		t.Skip("DISPATCH_TEST_DB_ADDR not set")
	}

	suite.Run(t, &storageTestSuite{
		options: &pg.Options{
			Addr:     addr,
			User:     envOr("DISPATCH_TEST_DB_USER", "postgres"),
			Password: os.Getenv("DISPATCH_TEST_DB_PASSWORD"),
			Database: envOr("DISPATCH_TEST_DB_NAME", "dispatch_test"),
		},
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

type storageTestSuite struct {
	suite.Suite

	options *pg.Options
	db      *pg.DB
	ctx     context.Context
	now     time.Time

	jobs    dispatch.JobRepository
	ledger  dispatch.Ledger
	configs dispatch.ConfigRepository
}

func (suite *storageTestSuite) models() []interface{} {
	return []interface{}{
		&jobWrapper{Job: &dispatch.Job{}},
		&ledgerWrapper{DeliveryRecord: &dispatch.DeliveryRecord{}},
		&providerWrapper{ProviderConfig: &dispatch.ProviderConfig{}},
		&notificationWrapper{NotificationConfig: &dispatch.NotificationConfig{}},
		&templateWrapper{Template: &dispatch.Template{}},
	}
}

func (suite *storageTestSuite) SetupSuite() {
	suite.db = pg.Connect(suite.options)
	suite.ctx = context.Background()

	for _, model := range suite.models() {
		require.NoError(suite.T(), suite.db.CreateTable(model, &orm.CreateTableOptions{IfNotExists: true}))
	}

	suite.jobs = NewJobRepository(suite.db)
	suite.ledger = NewLedger(suite.db)
	suite.configs = NewConfigRepository(suite.db)
}

func (suite *storageTestSuite) TearDownSuite() {
	for _, model := range suite.models() {
		assert.NoError(suite.T(), suite.db.DropTable(model, &orm.DropTableOptions{IfExists: true}))
	}

	suite.db.Close()
}

func (suite *storageTestSuite) SetupTest() {
	suite.now = time.Now().UTC().Truncate(time.Second)

	_, err := suite.db.Exec("TRUNCATE dispatch_jobs, dispatch_ledger, dispatch_provider, dispatch_notifications, dispatch_templates")
	require.NoError(suite.T(), err)
}

func (suite *storageTestSuite) scheduled(at time.Time, number string) *dispatch.Job {
	job := dispatch.NewJob(dispatch.JobSingle, dispatch.ChannelSms, "hello", []dispatch.Recipient{{Number: number}}, &at)
	job.State = dispatch.JobScheduled
	job.CreatedAt = suite.now
	job.UpdatedAt = suite.now

	require.NoError(suite.T(), suite.jobs.Create(suite.ctx, job))

	return job
}

func (suite *storageTestSuite) TestGetDue() {
	later := suite.scheduled(suite.now.Add(-time.Second), "+15550102")
	earlier := suite.scheduled(suite.now.Add(-time.Hour), "+15550101")
	exact := suite.scheduled(suite.now, "+15550103")
	suite.scheduled(suite.now.Add(time.Second), "+15550104")

	sent := suite.scheduled(suite.now.Add(-time.Minute), "+15550105")
	sent.State = dispatch.JobSent
	require.NoError(suite.T(), suite.jobs.Update(suite.ctx, sent))

	due, err := suite.jobs.GetDue(suite.ctx, suite.now)
	if !assert.NoError(suite.T(), err) {
		return
	}

	ids := make([]uuid.UUID, 0, len(due))
	for _, job := range due {
		ids = append(ids, job.Id)
	}

	assert.Equal(suite.T(), []uuid.UUID{earlier.Id, later.Id, exact.Id}, ids)
	assert.Equal(suite.T(), "+15550101", due[0].Recipients[0].Number)
}

func (suite *storageTestSuite) records(job *dispatch.Job, outcomes ...dispatch.Outcome) []dispatch.DeliveryRecord {
	records := make([]dispatch.DeliveryRecord, 0, len(outcomes))
	for _, outcome := range outcomes {
		records = append(records, dispatch.DeliveryRecord{
			Id:              uuid.New(),
			JobId:           job.Id,
			Timestamp:       suite.now,
			RecipientNumber: job.Recipients[0].Number,
			Outcome:         outcome,
			SourceKind:      job.Kind,
		})
	}

	return records
}

func (suite *storageTestSuite) TestComplete() {
	job := suite.scheduled(suite.now, "+15550101")
	job.State = dispatch.JobPartial
	job.SentCount, job.FailedCount = 1, 1

	require.NoError(suite.T(), suite.jobs.Complete(suite.ctx, job, suite.records(job, dispatch.OutcomeSent, dispatch.OutcomeFailed)))

	stored, err := suite.jobs.Get(suite.ctx, job.Id)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), dispatch.JobPartial, stored.State)
	assert.Equal(suite.T(), 1, stored.FailedCount)

	_, count, err := suite.ledger.Matching(suite.ctx, dispatch.LedgerCriteria{JobId: job.Id})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, count)
}

func (suite *storageTestSuite) TestCompleteIsAtomic() {
	job := suite.scheduled(suite.now, "+15550101")
	job.State = dispatch.JobSent
	job.SentCount = 2

	records := suite.records(job, dispatch.OutcomeSent, dispatch.OutcomeSent)
	records[1].Id = records[0].Id

	assert.Error(suite.T(), suite.jobs.Complete(suite.ctx, job, records))

	stored, err := suite.jobs.Get(suite.ctx, job.Id)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), dispatch.JobScheduled, stored.State)

	_, count, err := suite.ledger.Matching(suite.ctx, dispatch.LedgerCriteria{JobId: job.Id})
	assert.NoError(suite.T(), err)
	assert.Zero(suite.T(), count)
}

func (suite *storageTestSuite) TestSummarize() {
	single := suite.scheduled(suite.now, "+15550101")
	order := suite.scheduled(suite.now, "+15550102")
	order.Kind = dispatch.JobOrderConfirmation

	records := append(suite.records(single, dispatch.OutcomeSent, dispatch.OutcomeFailed), suite.records(order, dispatch.OutcomeSent)...)
	for i := range records {
		require.NoError(suite.T(), suite.ledger.Record(suite.ctx, &records[i]))
	}

	summary, err := suite.ledger.Summarize(suite.ctx, dispatch.LedgerCriteria{})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), dispatch.Summarize(records), summary)

	summary, err = suite.ledger.Summarize(suite.ctx, dispatch.LedgerCriteria{Outcome: dispatch.OutcomeSent})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, summary.Total())

	deleted, err := suite.ledger.Purge(suite.ctx)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 3, deleted)
}

func (suite *storageTestSuite) TestNotificationOrdering() {
	names := []string{"oldest", "middle", "newest"}

	for i, name := range names {
		cfg := dispatch.NewNotificationConfig(dispatch.JobDeliveryConfirmation)
		cfg.Name = name
		cfg.Active = name != "middle"
		cfg.CreatedAt = suite.now.Add(time.Duration(i) * time.Minute)
		cfg.UpdatedAt = cfg.CreatedAt

		require.NoError(suite.T(), suite.configs.SaveNotification(suite.ctx, cfg))
	}

	configs, err := suite.configs.Notifications(suite.ctx, dispatch.JobDeliveryConfirmation)
	if !assert.NoError(suite.T(), err) || !assert.Len(suite.T(), configs, 3) {
		return
	}

	assert.Equal(suite.T(), names, []string{configs[0].Name, configs[1].Name, configs[2].Name})

	first, _ := dispatch.PickActive(configs, dispatch.FirstActive)
	newest, _ := dispatch.PickActive(configs, dispatch.NewestActive)
	assert.Equal(suite.T(), "oldest", first.Name)
	assert.Equal(suite.T(), "newest", newest.Name)

	assert.NoError(suite.T(), suite.configs.CountNotification(suite.ctx, newest.Id, 2, 1))
	assert.NoError(suite.T(), suite.configs.CountNotification(suite.ctx, newest.Id, 1, 0))

	configs, err = suite.configs.Notifications(suite.ctx, dispatch.JobDeliveryConfirmation)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 3, configs[2].TotalSent)
	assert.Equal(suite.T(), 1, configs[2].TotalFailed)

	empty, err := suite.configs.Notifications(suite.ctx, dispatch.JobOrderConfirmation)
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), empty)
}

func (suite *storageTestSuite) TestProvider() {
	_, err := suite.configs.Provider(suite.ctx)
	assert.Equal(suite.T(), dispatch.ConfigNotFoundErr, err)

	cfg := &dispatch.ProviderConfig{Name: "Messaging Settings", AccountId: "AC1", AuthSecret: "secret", ConnectionState: dispatch.ConnectionUnknown}
	require.NoError(suite.T(), suite.configs.SaveProvider(suite.ctx, cfg))
	assert.NotZero(suite.T(), cfg.Id)

	cfg.ConnectionState = dispatch.ConnectionConnected
	require.NoError(suite.T(), suite.configs.SaveProvider(suite.ctx, cfg))

	stored, err := suite.configs.Provider(suite.ctx)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), cfg.Id, stored.Id)
	assert.Equal(suite.T(), "secret", stored.AuthSecret)
	assert.Equal(suite.T(), dispatch.ConnectionConnected, stored.ConnectionState)
}
