package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/model"
	"marketplace/internal/repository/postgres"
)

// Default category tree seeded when no site configuration exists yet.
var (
	defaultCategories    = []string{"Electronics", "Fashion"}
	defaultSubCategories = map[string][]string{
		"Electronics": {"Phones", "Laptops", "Accessories"},
		"Fashion":     {"Clothing", "Shoes", "Jewellery"},
	}
)

// SiteConfigService serves the site-wide category tree used to validate
// shop and product categories.
type SiteConfigService struct {
	repo   postgres.SiteConfigRepository
	logger *zap.Logger
}

func NewSiteConfigService(repo postgres.SiteConfigRepository, logger *zap.Logger) *SiteConfigService {
	return &SiteConfigService{repo: repo, logger: logger}
}

// EnsureDefaults seeds the default category tree on first boot. A config that
// already exists is left untouched.
func (s *SiteConfigService) EnsureDefaults(ctx context.Context) error {
	_, err := s.repo.Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, postgres.ErrSiteConfigNotFound) {
		return apperror.Internal(err, "could not load site config")
	}

	cfg := &model.SiteConfig{
		Categories:    defaultCategories,
		SubCategories: defaultSubCategories,
	}
	if err := s.repo.Create(ctx, cfg); err != nil {
		return apperror.Internal(err, "could not seed site config")
	}
	s.logger.Info("Seeded default site config")
	return nil
}

func (s *SiteConfigService) Get(ctx context.Context) (*model.SiteConfig, error) {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, postgres.ErrSiteConfigNotFound) {
			return nil, apperror.NotFound("Site configuration not found.")
		}
		return nil, apperror.Internal(err, "could not load site config")
	}
	return cfg, nil
}

// ValidCategory reports whether category is part of the configured tree.
func (s *SiteConfigService) ValidCategory(ctx context.Context, category string) (bool, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range cfg.Categories {
		if c == category {
			return true, nil
		}
	}
	return false, nil
}
