package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civic-os/dispatchq/model"
)

const processColumns = `id, state, lock_type, created_at, updated_at`

func scanProcess(row pgx.Row) (*model.Process, error) {
	var p model.Process
	var stateJSON []byte
	var lockType int
	if err := row.Scan(&p.ID, &stateJSON, &lockType, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.LockType = model.LockType(lockType)
	if len(stateJSON) > 0 {
		if err := json.Unmarshal(stateJSON, &p.State); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// InsertProcess creates a process row, or refreshes it on an id conflict
// (spec §4.10). The Process Tracker calls it once, from Start.
func (s *Store) InsertProcess(ctx context.Context, q Querier, id uuid.UUID, lockType model.LockType, state map[string]any) (*model.Process, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, `
		INSERT INTO dispatchq_processes (id, state, lock_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET state = $2, lock_type = $3, updated_at = now()
		RETURNING `+processColumns, id, stateJSON, int(lockType))
	return scanProcess(row)
}

// Heartbeat refreshes updated_at (and optionally state) for id (spec §4.10:
// 30s heartbeat).
func (s *Store) Heartbeat(ctx context.Context, q Querier, id uuid.UUID, state map[string]any) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE dispatchq_processes SET state = $2, updated_at = now()
		WHERE id = $1`, id, stateJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProcess removes a process row on clean shutdown (spec §4.10).
func (s *Store) DeleteProcess(ctx context.Context, q Querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM dispatchq_processes WHERE id = $1`, id)
	return err
}

// FindProcess loads a single process row.
func (s *Store) FindProcess(ctx context.Context, q Querier, id uuid.UUID) (*model.Process, error) {
	row := q.QueryRow(ctx, `SELECT `+processColumns+` FROM dispatchq_processes WHERE id = $1`, id)
	p, err := scanProcess(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// StaleHeartbeatProcesses returns heartbeat-type processes whose updated_at
// predates now-window, for the reaper to delete (spec §4.10).
func (s *Store) StaleHeartbeatProcesses(ctx context.Context, q Querier, window time.Duration) ([]*model.Process, error) {
	rows, err := q.Query(ctx, `
		SELECT `+processColumns+` FROM dispatchq_processes
		WHERE lock_type = $1 AND updated_at < now() - $2::interval`,
		int(model.LockTypeHeartbeat), intervalSeconds(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
