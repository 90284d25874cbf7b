package gopg

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/google/uuid"
	"github.com/interactive-solutions/go-dispatch"
)

func NewTemplateRepository(db *pg.DB) dispatch.TemplateRepository {
	return &templateRepository{
		db: db,
	}
}

type templateRepository struct {
	db *pg.DB
}

type templateWrapper struct {
	TableName struct{} `sql:"dispatch_templates,alias:dt" json:"-"`

	*dispatch.Template
}

func (repo *templateRepository) Get(ctx context.Context, id uuid.UUID) (dispatch.Template, error) {
	wrapped := &templateWrapper{
		Template: &dispatch.Template{},
	}

	if err := repo.db.WithContext(ctx).Model(wrapped).Where("dt.id = ?", id).Select(); err != nil {
		if err == pg.ErrNoRows {
			return *wrapped.Template, dispatch.TemplateNotFoundErr
		}

		return *wrapped.Template, err
	}

	return *wrapped.Template, nil
}

func (repo *templateRepository) Create(ctx context.Context, template *dispatch.Template) error {
	return repo.db.WithContext(ctx).Insert(&templateWrapper{Template: template})
}

func (repo *templateRepository) Update(ctx context.Context, template *dispatch.Template) error {
	template.UpdatedAt = time.Now()

	return repo.db.WithContext(ctx).Update(&templateWrapper{Template: template})
}

func (repo *templateRepository) Delete(ctx context.Context, template *dispatch.Template) error {
	return repo.db.WithContext(ctx).Delete(&templateWrapper{Template: template})
}

func (repo *templateRepository) Matching(ctx context.Context, criteria dispatch.TemplateCriteria) ([]dispatch.Template, int, error) {
	var wrapped []templateWrapper
	templates := make([]dispatch.Template, 0)

	builder := repo.db.WithContext(ctx).Model(&wrapped).
		Offset(criteria.Offset).
		Limit(criteria.Limit).
		Order("name ASC")

	if criteria.Name != "" {
		builder.Where("LOWER(name) LIKE LOWER(?)", criteria.Name+"%")
	}

	if criteria.Channel != "" {
		builder.Where("channel = ?", criteria.Channel)
	}

	count, err := builder.SelectAndCount()
	if err != nil && err != pg.ErrNoRows {
		return templates, 0, err
	}

	for _, t := range wrapped {
		templates = append(templates, *t.Template)
	}

	return templates, count, nil
}
