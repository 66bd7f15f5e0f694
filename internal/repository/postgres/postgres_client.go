package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"marketplace/internal/config"
	"marketplace/internal/util"
)

// PostgresClient owns the relational connection pool shared by the
// repositories.
type PostgresClient struct {
	DB *sqlx.DB
}

func NewPostgresClient(cfg *config.Config, logger *zap.Logger) (*PostgresClient, error) {
	db, err := sqlx.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	logger.Info("Postgres client initialized")
	return &PostgresClient{DB: db}, nil
}

func (p *PostgresClient) HealthCheck(ctx context.Context) error {
	if err := p.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() error {
	if p.DB != nil {
		if err := p.DB.Close(); err != nil {
			util.Error("failed to close Postgres client", util.ErrorField(err))
			return err
		}
		util.Info("Postgres client closed")
	}
	return nil
}
