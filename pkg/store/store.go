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

// Package store persists rooms and utterances so transcripts survive a
// restart. Persistence is write-behind: the engine never blocks a turn on
// the database, and a disabled store is a no-op.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/agonhq/agon/pkg/debate"
)

// ErrNotFound is returned when a room has no persisted snapshot.
var ErrNotFound = errors.New("room not found")

// RoomMeta is the listing shape for persisted active rooms.
type RoomMeta struct {
	ID           string       `json:"id"`
	Topic        string       `json:"topic"`
	Stage        debate.Stage `json:"stage"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
}

// Store persists room snapshots and utterances.
type Store interface {
	// SaveUtterance is idempotent by utterance id.
	SaveUtterance(ctx context.Context, roomID string, u debate.Utterance) error

	// SaveRoom upserts the room snapshot keyed by room id.
	SaveRoom(ctx context.Context, snap debate.Snapshot) error

	// LoadRoomSnapshot returns ErrNotFound for unknown rooms.
	LoadRoomSnapshot(ctx context.Context, roomID string) (*debate.Snapshot, error)

	// ListActiveRooms returns metadata for rooms not yet completed.
	ListActiveRooms(ctx context.Context) ([]RoomMeta, error)

	Close() error
}

// Noop is the disabled-persistence store.
type Noop struct{}

func (Noop) SaveUtterance(context.Context, string, debate.Utterance) error { return nil }
func (Noop) SaveRoom(context.Context, debate.Snapshot) error               { return nil }
func (Noop) LoadRoomSnapshot(context.Context, string) (*debate.Snapshot, error) {
	return nil, ErrNotFound
}
func (Noop) ListActiveRooms(context.Context) ([]RoomMeta, error) { return nil, nil }
func (Noop) Close() error                                        { return nil }
