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

// ErrAccountNotFound is returned when no row matches the lookup.
var ErrAccountNotFound = errors.New("account not found")

// AccountRepository stores buyer and seller identities. Email is unique
// within each role's table.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string, role model.Role) (*model.Account, error)
	FindByID(ctx context.Context, id string, role model.Role) (*model.Account, error)
	Create(ctx context.Context, account *model.Account, role model.Role) error
	UpdatePassword(ctx context.Context, email string, role model.Role, passwordHash string) error
	UpdateStripeID(ctx context.Context, sellerID, stripeID string) error
	HealthCheck(ctx context.Context) error
}

type accountRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewAccountRepository(client *PostgresClient, logger *zap.Logger) AccountRepository {
	return &accountRepository{db: client.DB, logger: logger}
}

func tableFor(role model.Role) string {
	if role == model.RoleSeller {
		return "sellers"
	}
	return "users"
}

func (r *accountRepository) FindByEmail(ctx context.Context, email string, role model.Role) (*model.Account, error) {
	var account model.Account
	query := fmt.Sprintf(`SELECT * FROM %s WHERE email = $1`, tableFor(role))
	if err := r.db.GetContext(ctx, &account, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		r.logger.Error("Failed to find account by email",
			util.String("role", string(role)),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) FindByID(ctx context.Context, id string, role model.Role) (*model.Account, error) {
	var account model.Account
	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = $1`, tableFor(role))
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		r.logger.Error("Failed to find account by id",
			util.String("role", string(role)),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to find account by id: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) Create(ctx context.Context, account *model.Account, role model.Role) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, email, password_hash, phone_number, country, stripe_id, created_at)
		VALUES (:id, :name, :email, :password_hash, :phone_number, :country, :stripe_id, :created_at)`,
		tableFor(role))

	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		r.logger.Error("Failed to create account",
			util.String("role", string(role)),
			util.ErrorField(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	r.logger.Info("Account created",
		util.String("account_id", account.ID),
		util.String("role", string(role)),
	)
	return nil
}

func (r *accountRepository) UpdatePassword(ctx context.Context, email string, role model.Role, passwordHash string) error {
	query := fmt.Sprintf(`UPDATE %s SET password_hash = $1, updated_at = $2 WHERE email = $3`, tableFor(role))
	result, err := r.db.ExecContext(ctx, query, passwordHash, time.Now().UTC(), email)
	if err != nil {
		r.logger.Error("Failed to update password",
			util.String("role", string(role)),
			util.ErrorField(err))
		return fmt.Errorf("failed to update password: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) UpdateStripeID(ctx context.Context, sellerID, stripeID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sellers SET stripe_id = $1, updated_at = $2 WHERE id = $3`,
		stripeID, time.Now().UTC(), sellerID)
	if err != nil {
		return fmt.Errorf("failed to update stripe id: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update stripe id: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
