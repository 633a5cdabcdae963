package database

import (
	"context"
	"fmt"

	"finreport-qa/pkg/log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresPool 连接 PostgreSQL，供 pgvector 索引使用。
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	log.Info("PostgreSQL connected successfully")
	return pool, nil
}
