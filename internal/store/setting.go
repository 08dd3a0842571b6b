package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
)

// GetSetting loads the raw JSON value for key, or (nil, false, nil) if no
// row exists (spec §3 Setting: "unique on key").
func (s *Store) GetSetting(ctx context.Context, q Querier, key string) ([]byte, bool, error) {
	var value []byte
	err := q.QueryRow(ctx, `SELECT value FROM dispatchq_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// PutSetting upserts key to value (JSON-marshalled).
func (s *Store) PutSetting(ctx context.Context, q Querier, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO dispatchq_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = $2`, key, b)
	return err
}

// DeleteSetting removes key, a no-op if it does not exist.
func (s *Store) DeleteSetting(ctx context.Context, q Querier, key string) error {
	_, err := q.Exec(ctx, `DELETE FROM dispatchq_settings WHERE key = $1`, key)
	return err
}

// SettingKeysWithPrefix returns every key in the setting store starting
// with prefix, used to build the paused-queue and paused-class sets the
// Scheduler consults on each selection pass (spec §4.5, §6
// "enable_pauses").
func (s *Store) SettingKeysWithPrefix(ctx context.Context, q Querier, prefix string) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT key FROM dispatchq_settings WHERE key LIKE $1`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SettingStringList decodes a JSON-array-of-strings setting value, used for
// the cron disabled-key list (spec §4.7). Returns an empty (not nil) slice
// when the key is absent.
func (s *Store) SettingStringList(ctx context.Context, q Querier, key string) ([]string, error) {
	raw, ok, err := s.GetSetting(ctx, q, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
