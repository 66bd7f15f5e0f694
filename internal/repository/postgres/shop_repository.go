package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"marketplace/internal/model"
	"marketplace/internal/util"
)

var ErrShopNotFound = errors.New("shop not found")

type ShopRepository interface {
	Create(ctx context.Context, shop *model.Shop) error
	FindBySellerID(ctx context.Context, sellerID string) (*model.Shop, error)
	FindByID(ctx context.Context, id string) (*model.Shop, error)
}

type shopRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewShopRepository(client *PostgresClient, logger *zap.Logger) ShopRepository {
	return &shopRepository{db: client.DB, logger: logger}
}

func (r *shopRepository) Create(ctx context.Context, shop *model.Shop) error {
	if shop.ID == "" {
		shop.ID = uuid.NewString()
	}
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO shops (id, seller_id, name, bio, address, opening_hours, website, category, created_at)
		VALUES (:id, :seller_id, :name, :bio, :address, :opening_hours, :website, :category, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, shop); err != nil {
		r.logger.Error("Failed to create shop", util.String("seller_id", shop.SellerID), util.ErrorField(err))
		return fmt.Errorf("failed to create shop: %w", err)
	}

	r.logger.Info("Shop created", util.String("shop_id", shop.ID), util.String("seller_id", shop.SellerID))
	return nil
}

func (r *shopRepository) FindBySellerID(ctx context.Context, sellerID string) (*model.Shop, error) {
	var shop model.Shop
	if err := r.db.GetContext(ctx, &shop, `SELECT * FROM shops WHERE seller_id = $1`, sellerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShopNotFound
		}
		return nil, fmt.Errorf("failed to find shop by seller: %w", err)
	}
	return &shop, nil
}

func (r *shopRepository) FindByID(ctx context.Context, id string) (*model.Shop, error) {
	var shop model.Shop
	if err := r.db.GetContext(ctx, &shop, `SELECT * FROM shops WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShopNotFound
		}
		return nil, fmt.Errorf("failed to find shop: %w", err)
	}
	return &shop, nil
}
