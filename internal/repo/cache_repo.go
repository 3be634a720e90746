package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Maestro/internal/domain"
)

// CacheRepo — хранилище закэшированных терминальных состояний.
// Реализует rules.ResultCache.
type CacheRepo struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewCacheRepo создаёт новый CacheRepo. ttl <= 0 — записи не истекают.
func NewCacheRepo(pool *pgxpool.Pool, ttl time.Duration) *CacheRepo {
	return &CacheRepo{pool: pool, ttl: ttl}
}

// Lookup возвращает закэшированное состояние по ключу.
func (r *CacheRepo) Lookup(ctx context.Context, key string) (*domain.State, bool, error) {
	query := `
		SELECT state
		FROM cached_results
		WHERE cache_key = $1
		  AND (expires_at IS NULL OR expires_at > NOW())
	`
	var stateJSON []byte
	err := r.pool.QueryRow(ctx, query, key).Scan(&stateJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup cached result: %w", err)
	}

	var state domain.State
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached state: %w", err)
	}
	return &state, true, nil
}

// Store сохраняет состояние под ключом. Повторная запись того же ключа
// перезаписывает предыдущую.
func (r *CacheRepo) Store(ctx context.Context, key string, state *domain.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cached state: %w", err)
	}

	var expiresAt *time.Time
	if r.ttl > 0 {
		t := time.Now().Add(r.ttl)
		expiresAt = &t
	}

	query := `
		INSERT INTO cached_results (cache_key, state, created_at, expires_at)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (cache_key)
		DO UPDATE SET state = $2, created_at = NOW(), expires_at = $3
	`
	if _, err := r.pool.Exec(ctx, query, key, stateJSON, expiresAt); err != nil {
		return fmt.Errorf("store cached result: %w", err)
	}
	return nil
}

// Purge удаляет истёкшие записи.
func (r *CacheRepo) Purge(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM cached_results WHERE expires_at IS NOT NULL AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("purge cached results: %w", err)
	}
	return result.RowsAffected(), nil
}
