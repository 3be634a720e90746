package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Maestro/internal/domain"
)

// FlowRepo — репозиторий для работы с flows.
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// Create создаёт новый flow.
func (r *FlowRepo) Create(ctx context.Context, flow *domain.Flow) error {
	schemaJSON, err := json.Marshal(flow.ParameterSchema)
	if err != nil {
		return fmt.Errorf("marshal parameter schema: %w", err)
	}

	query := `
		INSERT INTO flows (id, name, parameter_schema, tags, max_attempts, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		flow.ID,
		flow.Name,
		schemaJSON,
		flow.Tags,
		flow.MaxAttempts,
		flow.IsActive,
		flow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

// GetByID возвращает flow по ID.
func (r *FlowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	query := `
		SELECT id, name, parameter_schema, tags, max_attempts, is_active, created_at
		FROM flows
		WHERE id = $1
	`
	return scanFlow(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает flow по имени.
func (r *FlowRepo) GetByName(ctx context.Context, name string) (*domain.Flow, error) {
	query := `
		SELECT id, name, parameter_schema, tags, max_attempts, is_active, created_at
		FROM flows
		WHERE name = $1
	`
	return scanFlow(r.pool.QueryRow(ctx, query, name))
}

// List возвращает список flows.
func (r *FlowRepo) List(ctx context.Context, limit, offset int) ([]domain.Flow, error) {
	query := `
		SELECT id, name, parameter_schema, tags, max_attempts, is_active, created_at
		FROM flows
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		var flow domain.Flow
		var schemaJSON []byte
		err := rows.Scan(
			&flow.ID,
			&flow.Name,
			&schemaJSON,
			&flow.Tags,
			&flow.MaxAttempts,
			&flow.IsActive,
			&flow.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		if schemaJSON != nil {
			if err := json.Unmarshal(schemaJSON, &flow.ParameterSchema); err != nil {
				return nil, fmt.Errorf("unmarshal parameter schema: %w", err)
			}
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// SetActive включает/выключает flow.
func (r *FlowRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE flows SET is_active = $2 WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFlow(row pgx.Row) (*domain.Flow, error) {
	var flow domain.Flow
	var schemaJSON []byte

	err := row.Scan(
		&flow.ID,
		&flow.Name,
		&schemaJSON,
		&flow.Tags,
		&flow.MaxAttempts,
		&flow.IsActive,
		&flow.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow: %w", err)
	}

	if schemaJSON != nil {
		if err := json.Unmarshal(schemaJSON, &flow.ParameterSchema); err != nil {
			return nil, fmt.Errorf("unmarshal parameter schema: %w", err)
		}
	}
	return &flow, nil
}
