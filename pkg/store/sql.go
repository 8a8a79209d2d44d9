// Copyright 2025 The Agon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agonhq/agon/pkg/config"
	"github.com/agonhq/agon/pkg/debate"
)

// SQLStore persists to sqlite3, postgres, or mysql. Snapshots are stored as
// JSON blobs; utterances additionally get their own rows for querying.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// New builds a store from configuration. An empty driver yields the no-op
// store.
func New(cfg *config.StoreConfig) (Store, error) {
	if cfg == nil || cfg.Driver == "" {
		return Noop{}, nil
	}
	return NewSQL(cfg.Driver, cfg.DSN)
}

func NewSQL(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}

	s := &SQLStore{db: db, dialect: driver}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id VARCHAR(64) PRIMARY KEY,
			topic TEXT NOT NULL,
			stage VARCHAR(32) NOT NULL,
			snapshot TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_activity TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS utterances (
			id VARCHAR(64) PRIMARY KEY,
			room_id VARCHAR(64) NOT NULL,
			speaker_id VARCHAR(128) NOT NULL,
			role VARCHAR(32) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			text TEXT NOT NULL,
			metadata TEXT NOT NULL,
			ts TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_utterances_room ON utterances (room_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
		} else {
			out = append(out, query[i])
		}
	}
	return string(out)
}

// insertIgnore is the dialect-specific idempotent insert prefix/suffix.
func (s *SQLStore) insertIgnoreUtterance() string {
	switch s.dialect {
	case "mysql":
		return `INSERT IGNORE INTO utterances (id, room_id, speaker_id, role, kind, text, metadata, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	case "postgres":
		return `INSERT INTO utterances (id, room_id, speaker_id, role, kind, text, metadata, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`
	default:
		return `INSERT OR IGNORE INTO utterances (id, room_id, speaker_id, role, kind, text, metadata, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	}
}

func (s *SQLStore) upsertRoom() string {
	switch s.dialect {
	case "mysql":
		return `INSERT INTO rooms (id, topic, stage, snapshot, created_at, last_activity)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE stage = VALUES(stage), snapshot = VALUES(snapshot), last_activity = VALUES(last_activity)`
	case "postgres":
		return `INSERT INTO rooms (id, topic, stage, snapshot, created_at, last_activity)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET stage = EXCLUDED.stage, snapshot = EXCLUDED.snapshot, last_activity = EXCLUDED.last_activity`
	default:
		return `INSERT INTO rooms (id, topic, stage, snapshot, created_at, last_activity)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET stage = excluded.stage, snapshot = excluded.snapshot, last_activity = excluded.last_activity`
	}
}

func (s *SQLStore) SaveUtterance(ctx context.Context, roomID string, u debate.Utterance) error {
	metadata, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode utterance metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(s.insertIgnoreUtterance()),
		u.ID, roomID, u.SpeakerID, string(u.Role), string(u.Kind), u.Text, string(metadata), u.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save utterance: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveRoom(ctx context.Context, snap debate.Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode room snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(s.upsertRoom()),
		snap.ID, snap.Topic, string(snap.Stage), string(blob), snap.CreatedAt, snap.LastActivity)
	if err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadRoomSnapshot(ctx context.Context, roomID string) (*debate.Snapshot, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT snapshot FROM rooms WHERE id = ?`), roomID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}

	var snap debate.Snapshot
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode room snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLStore) ListActiveRooms(ctx context.Context) ([]RoomMeta, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, topic, stage, created_at, last_activity FROM rooms WHERE stage != ? ORDER BY last_activity DESC`),
		string(debate.StageCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RoomMeta
	for rows.Next() {
		var m RoomMeta
		var stage string
		if err := rows.Scan(&m.ID, &m.Topic, &stage, &m.CreatedAt, &m.LastActivity); err != nil {
			return nil, err
		}
		m.Stage = debate.Stage(stage)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
