package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/storefront-bot/internal/domain"
)

// PostgresOrderRepo хранит снимки заказов как jsonb; в памяти остаётся
// основная таблица, строки в базе служат архивом и источником при старте.
type PostgresOrderRepo struct {
	Pool *pgxpool.Pool
}

func NewPostgresOrderRepo(pool *pgxpool.Pool) *PostgresOrderRepo {
	return &PostgresOrderRepo{Pool: pool}
}

func (r *PostgresOrderRepo) Upsert(ctx context.Context, id string, raw []byte) error {
	_, err := r.Pool.Exec(ctx, `INSERT INTO storefront_orders(order_id, payload, updated_at) VALUES($1, $2, now())
        ON CONFLICT (order_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`, id, raw)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", id, err)
	}
	return nil
}

// LoadAll отдаёт строки от старых к новым.
func (r *PostgresOrderRepo) LoadAll(ctx context.Context, fn func(id string, raw []byte) error) error {
	rows, err := r.Pool.Query(ctx, `SELECT order_id, payload FROM storefront_orders ORDER BY updated_at`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		if err := fn(id, raw); err != nil {
			return err
		}
	}
	return rows.Err()
}

var _ domain.OrderRepository = (*PostgresOrderRepo)(nil)

// EnsureSchema — создать необходимые таблицы, если отсутствуют.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS storefront_orders (
  order_id text PRIMARY KEY,
  payload jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);`)
	return err
}
