package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/model"
	"marketplace/internal/repository/postgres"
)

type memorySiteConfigRepo struct {
	cfg *model.SiteConfig
}

func (r *memorySiteConfigRepo) Get(context.Context) (*model.SiteConfig, error) {
	if r.cfg == nil {
		return nil, postgres.ErrSiteConfigNotFound
	}
	return r.cfg, nil
}

func (r *memorySiteConfigRepo) Create(_ context.Context, cfg *model.SiteConfig) error {
	r.cfg = cfg
	return nil
}

func TestSiteConfigGetFailsBeforeInitialization(t *testing.T) {
	svc := NewSiteConfigService(&memorySiteConfigRepo{}, zap.NewNop())

	_, err := svc.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestEnsureDefaultsSeedsOnce(t *testing.T) {
	repo := &memorySiteConfigRepo{}
	svc := NewSiteConfigService(repo, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.EnsureDefaults(ctx))
	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Contains(t, cfg.Categories, "Electronics")
	assert.Contains(t, cfg.Categories, "Fashion")

	seeded := repo.cfg
	require.NoError(t, svc.EnsureDefaults(ctx))
	assert.Same(t, seeded, repo.cfg)
}

func TestValidCategory(t *testing.T) {
	repo := &memorySiteConfigRepo{}
	svc := NewSiteConfigService(repo, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, svc.EnsureDefaults(ctx))

	ok, err := svc.ValidCategory(ctx, "Electronics")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.ValidCategory(ctx, "Groceries")
	require.NoError(t, err)
	assert.False(t, ok)
}
