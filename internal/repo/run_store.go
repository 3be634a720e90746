package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/engine"
)

// RunStore — репозиторий runs и их истории состояний.
// Реализует engine.Store.
//
// Текущее состояние хранится денормализованно в runs.current_state_id;
// AppendState продвигает указатель условным UPDATE, что и даёт
// оптимистичную конкурентность на уровне БД.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore создаёт новый RunStore.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Create создаёт run вместе с его начальным состоянием.
func (r *RunStore) Create(ctx context.Context, run *domain.Run, initial *domain.State) error {
	paramsJSON, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	dataJSON, err := json.Marshal(initial.Data)
	if err != nil {
		return fmt.Errorf("marshal state data: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, flow_id, kind, parent_id, tags, parameters, attempt,
		                  max_attempts, cache_key, paused, current_state_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		run.ID,
		run.FlowID,
		run.Kind,
		nullUUID(run.ParentID),
		run.Tags,
		paramsJSON,
		run.Attempt,
		run.MaxAttempts,
		nullString(run.CacheKey),
		run.Paused,
		initial.ID,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO run_states (id, run_id, type, ts, message, data, result_ref, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		initial.ID,
		run.ID,
		initial.Type,
		initial.Timestamp,
		nullString(initial.Message),
		dataJSON,
		nullString(initial.ResultRef),
		initial.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("insert initial state: %w", err)
	}

	return tx.Commit(ctx)
}

// GetRun возвращает run и его текущее состояние.
func (r *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, *domain.State, error) {
	query := `
		SELECT r.id, r.flow_id, r.kind, r.parent_id, r.tags, r.parameters,
		       r.attempt, r.max_attempts, r.cache_key, r.paused, r.created_at,
		       s.id, s.type, s.ts, s.message, s.data, s.result_ref, s.scheduled_for
		FROM runs r
		JOIN run_states s ON s.id = r.current_state_id
		WHERE r.id = $1
	`
	row := r.pool.QueryRow(ctx, query, id)

	var run domain.Run
	var state domain.State
	var parentID *uuid.UUID
	var paramsJSON, dataJSON []byte
	var cacheKey, message, resultRef *string

	err := row.Scan(
		&run.ID,
		&run.FlowID,
		&run.Kind,
		&parentID,
		&run.Tags,
		&paramsJSON,
		&run.Attempt,
		&run.MaxAttempts,
		&cacheKey,
		&run.Paused,
		&run.CreatedAt,
		&state.ID,
		&state.Type,
		&state.Timestamp,
		&message,
		&dataJSON,
		&resultRef,
		&state.ScheduledFor,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, engine.ErrRunNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("scan run: %w", err)
	}

	run.ParentID = parentID
	if cacheKey != nil {
		run.CacheKey = *cacheKey
	}
	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &run.Parameters); err != nil {
			return nil, nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}

	state.RunID = run.ID
	if message != nil {
		state.Message = *message
	}
	if resultRef != nil {
		state.ResultRef = *resultRef
	}
	if dataJSON != nil {
		if err := json.Unmarshal(dataJSON, &state.Data); err != nil {
			return nil, nil, fmt.Errorf("unmarshal state data: %w", err)
		}
	}

	return &run, &state, nil
}

// AppendState добавляет состояние в историю и продвигает current_state_id.
// Условие current_state_id = expectedCurrentID отбрасывает устаревшие
// коммиты: engine.ErrConflict при несовпадении.
func (r *RunStore) AppendState(ctx context.Context, runID, expectedCurrentID uuid.UUID, state *domain.State) error {
	dataJSON, err := json.Marshal(state.Data)
	if err != nil {
		return fmt.Errorf("marshal state data: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE runs SET current_state_id = $3
		WHERE id = $1 AND current_state_id = $2
	`, runID, expectedCurrentID, state.ID)
	if err != nil {
		return fmt.Errorf("advance current state: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, runID).Scan(&exists); err != nil {
			return fmt.Errorf("check run exists: %w", err)
		}
		if !exists {
			return engine.ErrRunNotFound
		}
		return engine.ErrConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO run_states (id, run_id, type, ts, message, data, result_ref, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		state.ID,
		runID,
		state.Type,
		state.Timestamp,
		nullString(state.Message),
		dataJSON,
		nullString(state.ResultRef),
		state.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("insert state: %w", err)
	}

	return tx.Commit(ctx)
}

// UpdateRun сохраняет изменённые правилами поля run.
func (r *RunStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET attempt = $2, paused = $3, cache_key = $4
		WHERE id = $1
	`,
		run.ID,
		run.Attempt,
		run.Paused,
		nullString(run.CacheKey),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return engine.ErrRunNotFound
	}
	return nil
}

// History возвращает историю состояний run в порядке коммита.
func (r *RunStore) History(ctx context.Context, runID uuid.UUID) ([]domain.State, error) {
	query := `
		SELECT id, type, ts, message, data, result_ref, scheduled_for
		FROM run_states
		WHERE run_id = $1
		ORDER BY ts ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var states []domain.State
	for rows.Next() {
		var state domain.State
		var dataJSON []byte
		var message, resultRef *string

		err := rows.Scan(
			&state.ID,
			&state.Type,
			&state.Timestamp,
			&message,
			&dataJSON,
			&resultRef,
			&state.ScheduledFor,
		)
		if err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}

		state.RunID = runID
		if message != nil {
			state.Message = *message
		}
		if resultRef != nil {
			state.ResultRef = *resultRef
		}
		if dataJSON != nil {
			if err := json.Unmarshal(dataJSON, &state.Data); err != nil {
				return nil, fmt.Errorf("unmarshal state data: %w", err)
			}
		}
		states = append(states, state)
	}
	if len(states) == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, runID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check run exists: %w", err)
		}
		if !exists {
			return nil, engine.ErrRunNotFound
		}
	}
	return states, rows.Err()
}

// List возвращает runs с фильтрацией по flow и типу текущего состояния.
func (r *RunStore) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT r.id, r.flow_id, r.kind, r.parent_id, r.tags, r.parameters,
		       r.attempt, r.max_attempts, r.cache_key, r.paused, r.created_at
		FROM runs r
		JOIN run_states s ON s.id = r.current_state_id
		WHERE ($1::uuid IS NULL OR r.flow_id = $1)
		  AND ($2::text IS NULL OR s.type = $2)
		ORDER BY r.created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.FlowID),
		nullString(string(filter.State)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListDue возвращает runs в SCHEDULED, у которых подошло время запуска.
func (r *RunStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Run, error) {
	query := `
		SELECT r.id, r.flow_id, r.kind, r.parent_id, r.tags, r.parameters,
		       r.attempt, r.max_attempts, r.cache_key, r.paused, r.created_at
		FROM runs r
		JOIN run_states s ON s.id = r.current_state_id
		WHERE s.type = 'SCHEDULED'
		  AND (s.scheduled_for IS NULL OR s.scheduled_for <= $1)
		ORDER BY s.ts ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	FlowID *uuid.UUID
	State  domain.StateType
	Limit  int
	Offset int
}

func scanRunFromRows(rows pgx.Rows) (*domain.Run, error) {
	var run domain.Run
	var parentID *uuid.UUID
	var paramsJSON []byte
	var cacheKey *string

	err := rows.Scan(
		&run.ID,
		&run.FlowID,
		&run.Kind,
		&parentID,
		&run.Tags,
		&paramsJSON,
		&run.Attempt,
		&run.MaxAttempts,
		&cacheKey,
		&run.Paused,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.ParentID = parentID
	if cacheKey != nil {
		run.CacheKey = *cacheKey
	}
	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &run.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
