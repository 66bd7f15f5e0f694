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

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrDiscountCodeNotFound = errors.New("discount code not found")
)

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	FindByID(ctx context.Context, id string) (*model.Product, error)
	ListByShop(ctx context.Context, shopID string) ([]*model.Product, error)
	List(ctx context.Context, limit, offset int) ([]*model.Product, error)
	Delete(ctx context.Context, shopID, productID string) error

	CreateDiscountCode(ctx context.Context, code *model.DiscountCode) error
	ListDiscountCodes(ctx context.Context, sellerID string) ([]*model.DiscountCode, error)
	DeleteDiscountCode(ctx context.Context, sellerID, codeID string) error
}

type productRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewProductRepository(client *PostgresClient, logger *zap.Logger) ProductRepository {
	return &productRepository{db: client.DB, logger: logger}
}

func (r *productRepository) Create(ctx context.Context, product *model.Product) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.State = model.ProductStateActive

	query := `
		INSERT INTO products (id, shop_id, title, description, category, sub_category,
			price_cents, sale_price_cents, stock, state, created_at)
		VALUES (:id, :shop_id, :title, :description, :category, :sub_category,
			:price_cents, :sale_price_cents, :stock, :state, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, product); err != nil {
		r.logger.Error("Failed to create product", util.String("shop_id", product.ShopID), util.ErrorField(err))
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (r *productRepository) FindByID(ctx context.Context, id string) (*model.Product, error) {
	var product model.Product
	err := r.db.GetContext(ctx, &product,
		`SELECT * FROM products WHERE id = $1 AND state = $2`, id, model.ProductStateActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return &product, nil
}

func (r *productRepository) ListByShop(ctx context.Context, shopID string) ([]*model.Product, error) {
	products := []*model.Product{}
	err := r.db.SelectContext(ctx, &products,
		`SELECT * FROM products WHERE shop_id = $1 AND state = $2 ORDER BY created_at DESC`,
		shopID, model.ProductStateActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list shop products: %w", err)
	}
	return products, nil
}

func (r *productRepository) List(ctx context.Context, limit, offset int) ([]*model.Product, error) {
	products := []*model.Product{}
	err := r.db.SelectContext(ctx, &products,
		`SELECT * FROM products WHERE state = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		model.ProductStateActive, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// Delete flips the product to the deleted state; rows are never removed.
func (r *productRepository) Delete(ctx context.Context, shopID, productID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE products SET state = $1 WHERE id = $2 AND shop_id = $3 AND state = $4`,
		model.ProductStateDeleted, productID, shopID, model.ProductStateActive)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *productRepository) CreateDiscountCode(ctx context.Context, code *model.DiscountCode) error {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO discount_codes (id, seller_id, public_name, code, discount_type, discount_value, created_at)
		VALUES (:id, :seller_id, :public_name, :code, :discount_type, :discount_value, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, code); err != nil {
		return fmt.Errorf("failed to create discount code: %w", err)
	}
	return nil
}

func (r *productRepository) ListDiscountCodes(ctx context.Context, sellerID string) ([]*model.DiscountCode, error) {
	codes := []*model.DiscountCode{}
	err := r.db.SelectContext(ctx, &codes,
		`SELECT * FROM discount_codes WHERE seller_id = $1 ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list discount codes: %w", err)
	}
	return codes, nil
}

func (r *productRepository) DeleteDiscountCode(ctx context.Context, sellerID, codeID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM discount_codes WHERE id = $1 AND seller_id = $2`, codeID, sellerID)
	if err != nil {
		return fmt.Errorf("failed to delete discount code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete discount code: %w", err)
	}
	if affected == 0 {
		return ErrDiscountCodeNotFound
	}
	return nil
}
