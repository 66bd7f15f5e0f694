package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"marketplace/internal/model"
)

var ErrSiteConfigNotFound = errors.New("site config not found")

// SiteConfigRepository stores the single site-wide category configuration row.
type SiteConfigRepository interface {
	Get(ctx context.Context) (*model.SiteConfig, error)
	Create(ctx context.Context, cfg *model.SiteConfig) error
}

type siteConfigRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSiteConfigRepository(client *PostgresClient, logger *zap.Logger) SiteConfigRepository {
	return &siteConfigRepository{db: client.DB, logger: logger}
}

func (r *siteConfigRepository) Get(ctx context.Context) (*model.SiteConfig, error) {
	var cfg model.SiteConfig
	err := r.db.GetContext(ctx, &cfg, `SELECT * FROM site_config ORDER BY created_at LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSiteConfigNotFound
		}
		return nil, fmt.Errorf("failed to get site config: %w", err)
	}

	if err := json.Unmarshal(cfg.CategoriesRaw, &cfg.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	if err := json.Unmarshal(cfg.SubCatsRaw, &cfg.SubCategories); err != nil {
		return nil, fmt.Errorf("failed to decode sub categories: %w", err)
	}
	return &cfg, nil
}

func (r *siteConfigRepository) Create(ctx context.Context, cfg *model.SiteConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	var err error
	if cfg.CategoriesRaw, err = json.Marshal(cfg.Categories); err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}
	if cfg.SubCatsRaw, err = json.Marshal(cfg.SubCategories); err != nil {
		return fmt.Errorf("failed to encode sub categories: %w", err)
	}

	query := `
		INSERT INTO site_config (id, categories, sub_categories, created_at)
		VALUES (:id, :categories, :sub_categories, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, cfg); err != nil {
		return fmt.Errorf("failed to create site config: %w", err)
	}

	r.logger.Info("Site config created")
	return nil
}
