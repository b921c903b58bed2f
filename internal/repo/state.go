package repo

import (
	"context"
	"database/sql"
	"encoding/json"
)

// RelayCursor returns the last event id delivered to sink, or ErrNotFound
// for a sink that never delivered.
func (r Repo) RelayCursor(ctx context.Context, sink string) (int64, error) {
	var id int64
	err := r.queryRow(ctx, `SELECT last_event_id FROM relay_cursors WHERE sink=?`, sink).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

func (r Repo) SetRelayCursor(ctx context.Context, sink string, eventID int64, at string) error {
	_, err := r.exec(ctx, `INSERT INTO relay_cursors(sink,last_event_id,updated_at) VALUES (?,?,?)
ON CONFLICT(sink) DO UPDATE SET last_event_id=excluded.last_event_id, updated_at=excluded.updated_at`, sink, eventID, at)
	return err
}

// GetSetting decodes the JSON value stored under key into dest.
func (r Repo) GetSetting(ctx context.Context, key string, dest any) error {
	var payload string
	err := r.queryRow(ctx, `SELECT value_json FROM settings WHERE key=?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), dest)
}

func (r Repo) PutSetting(ctx context.Context, key string, value any, at string) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO settings(key,value_json,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`, key, string(payload), at)
	return err
}
