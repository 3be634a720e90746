package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Maestro/internal/domain"
)

// LimitRepo — персистентная конфигурация лимитов конкурентности.
// Слоты считаются в памяти (slots.Manager); БД хранит только
// объявленные лимиты, которые сервер загружает при старте.
type LimitRepo struct {
	pool *pgxpool.Pool
}

// NewLimitRepo создаёт новый LimitRepo.
func NewLimitRepo(pool *pgxpool.Pool) *LimitRepo {
	return &LimitRepo{pool: pool}
}

// Upsert создаёт или обновляет лимит.
func (r *LimitRepo) Upsert(ctx context.Context, key string, slots int) error {
	query := `
		INSERT INTO concurrency_limits (key, slots, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key)
		DO UPDATE SET slots = $2, updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, key, slots); err != nil {
		return fmt.Errorf("upsert limit: %w", err)
	}
	return nil
}

// List возвращает все объявленные лимиты.
func (r *LimitRepo) List(ctx context.Context) ([]domain.ConcurrencyLimit, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, slots FROM concurrency_limits ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}
	defer rows.Close()

	var limits []domain.ConcurrencyLimit
	for rows.Next() {
		var limit domain.ConcurrencyLimit
		if err := rows.Scan(&limit.Key, &limit.Slots); err != nil {
			return nil, fmt.Errorf("scan limit: %w", err)
		}
		limits = append(limits, limit)
	}
	return limits, rows.Err()
}

// Delete удаляет лимит.
func (r *LimitRepo) Delete(ctx context.Context, key string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM concurrency_limits WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete limit: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
