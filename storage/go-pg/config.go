package gopg

import (
	"context"

	"github.com/go-pg/pg"
	"github.com/google/uuid"
	"github.com/interactive-solutions/go-dispatch"
)

func NewConfigRepository(db *pg.DB) dispatch.ConfigRepository {
	return &configRepository{
		db: db,
	}
}

type providerWrapper struct {
	TableName struct{} `sql:"dispatch_provider, alias:dp" json:"-"`

	*dispatch.ProviderConfig
}

type notificationWrapper struct {
	TableName struct{} `sql:"dispatch_notifications, alias:dn" json:"-"`

	*dispatch.NotificationConfig
}

type configRepository struct {
	db *pg.DB
}

// Provider returns the oldest provider row, only one is ever live.
func (repo *configRepository) Provider(ctx context.Context) (dispatch.ProviderConfig, error) {
	wrapped := &providerWrapper{
		ProviderConfig: &dispatch.ProviderConfig{},
	}

	if err := repo.db.WithContext(ctx).Model(wrapped).Order("dp.id ASC").Limit(1).Select(); err != nil {
		if err == pg.ErrNoRows {
			return *wrapped.ProviderConfig, dispatch.ConfigNotFoundErr
		}

		return *wrapped.ProviderConfig, err
	}

	return *wrapped.ProviderConfig, nil
}

func (repo *configRepository) SaveProvider(ctx context.Context, config *dispatch.ProviderConfig) error {
	if config.Id == 0 {
		return repo.db.WithContext(ctx).Insert(&providerWrapper{ProviderConfig: config})
	}

	return repo.db.WithContext(ctx).Update(&providerWrapper{ProviderConfig: config})
}

func (repo *configRepository) Notifications(ctx context.Context, kind dispatch.JobKind) ([]dispatch.NotificationConfig, error) {
	var wrapped []notificationWrapper
	configs := make([]dispatch.NotificationConfig, 0)

	err := repo.db.WithContext(ctx).Model(&wrapped).
		Where("kind = ?", kind).
		Order("created_at ASC", "id ASC").
		Select()

	if err != nil && err != pg.ErrNoRows {
		return configs, err
	}

	for _, c := range wrapped {
		configs = append(configs, *c.NotificationConfig)
	}

	return configs, nil
}

func (repo *configRepository) SaveNotification(ctx context.Context, config *dispatch.NotificationConfig) error {
	wrapped := &notificationWrapper{NotificationConfig: config}

	res, err := repo.db.WithContext(ctx).Model(wrapped).WherePK().Update()
	if err != nil {
		return err
	}

	if res.RowsAffected() > 0 {
		return nil
	}

	return repo.db.WithContext(ctx).Insert(wrapped)
}

func (repo *configRepository) CountNotification(ctx context.Context, id uuid.UUID, sent, failed int) error {
	_, err := repo.db.WithContext(ctx).Model((*notificationWrapper)(nil)).
		Set("total_sent = total_sent + ?", sent).
		Set("total_failed = total_failed + ?", failed).
		Where("id = ?", id).
		Update()

	return err
}
