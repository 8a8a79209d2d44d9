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

// Package rooms owns the live room set: creation under the active-room and
// memory caps, the periodic eviction sweep, and the turn runner that drives
// each room through its protocol. Everything outside this package sees rooms
// only through the service.
package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agonhq/agon/pkg/analysis"
	"github.com/agonhq/agon/pkg/builder"
	"github.com/agonhq/agon/pkg/catalog"
	"github.com/agonhq/agon/pkg/config"
	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/eventbus"
	"github.com/agonhq/agon/pkg/llms"
	"github.com/agonhq/agon/pkg/observability"
	"github.com/agonhq/agon/pkg/prepare"
	"github.com/agonhq/agon/pkg/rag"
	"github.com/agonhq/agon/pkg/registry"
	"github.com/agonhq/agon/pkg/store"
	"github.com/agonhq/agon/pkg/strategy"
)

// roomEntry pairs a room with the context that scopes its outstanding
// operations. Ending the room cancels the context.
type roomEntry struct {
	room   *debate.Room
	ctx    context.Context
	cancel context.CancelFunc
}

// ParticipantSpec names one debater at room creation. Philosopher ids must
// exist in the catalogue; user participants carry a caller-chosen id.
type ParticipantSpec struct {
	ID   string      `json:"id"`
	Role debate.Role `json:"role"`
}

// CreateRequest is the room creation input.
type CreateRequest struct {
	Topic          string            `json:"topic"`
	Language       string            `json:"language,omitempty"`
	Participants   []ParticipantSpec `json:"participants"`
	ModeratorStyle string            `json:"moderator_style,omitempty"`
}

// Stats is the registry health summary.
type Stats struct {
	ActiveRooms    int                  `json:"active_rooms"`
	MemoryEstimate int64                `json:"memory_estimate"`
	RoomsByStage   map[debate.Stage]int `json:"rooms_by_stage"`
}

// Service is the debate engine facade: room lifecycle plus turn execution.
type Service struct {
	cfg     *config.DebateConfig
	catalog *catalog.Catalog

	selector *strategy.Selector
	analyzer *analysis.Analyzer
	builder  *builder.Builder
	preparer *prepare.Preparer
	gateway  *rag.Gateway

	bus     *eventbus.Bus
	store   store.Store
	metrics *observability.Metrics
	tracer  *observability.Tracer

	rooms *registry.BaseRegistry[*roomEntry]

	mu         sync.Mutex
	userTimers map[string]*time.Timer

	logger *slog.Logger
}

// Options collects the service dependencies.
type Options struct {
	Config   *config.DebateConfig
	Catalog  *catalog.Catalog
	Selector *strategy.Selector
	Analyzer *analysis.Analyzer
	Builder  *builder.Builder
	Preparer *prepare.Preparer
	Gateway  *rag.Gateway
	Bus      *eventbus.Bus
	Store    store.Store
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// NewService wires the service. Store, Metrics, Tracer, Selector, Builder,
// and Preparer all have degraded-but-safe defaults; Analyzer and Gateway may
// stay nil, in which case turns skip analysis and retrieval.
func NewService(opts Options) *Service {
	st := opts.Store
	if st == nil {
		st = store.Noop{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &observability.Metrics{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.NewTracer(false)
	}
	selector := opts.Selector
	if selector == nil {
		strategies := &catalog.StrategyCatalog{}
		if opts.Catalog != nil && opts.Catalog.Strategies != nil {
			strategies = opts.Catalog.Strategies
		}
		selector = strategy.NewSelector(strategies)
	}
	bld := opts.Builder
	if bld == nil {
		bld = builder.New(llms.NewRegistry(), opts.Config.LLMTimeout)
	}
	preparer := opts.Preparer
	if preparer == nil {
		preparer = prepare.New(llms.NewRegistry(), opts.Gateway, opts.Config.LLMTimeout)
	}
	return &Service{
		cfg:        opts.Config,
		catalog:    opts.Catalog,
		selector:   selector,
		analyzer:   opts.Analyzer,
		builder:    bld,
		preparer:   preparer,
		gateway:    opts.Gateway,
		bus:        opts.Bus,
		store:      st,
		metrics:    metrics,
		tracer:     tracer,
		rooms:      registry.NewBaseRegistry[*roomEntry](),
		userTimers: map[string]*time.Timer{},
		logger:     slog.Default().With("component", "rooms"),
	}
}

// Create builds a new room and starts its opening preparation in the
// background. At the active-room limit the least recently active evictable
// room is ended first; ErrCapExceeded only when no room can be evicted.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*debate.Room, error) {
	for s.rooms.Count() >= s.cfg.MaxActiveRooms {
		entries := s.rooms.List()
		victim := s.pickVictim(entries, false)
		if victim == nil {
			victim = s.pickVictim(entries, true)
		}
		if victim == nil {
			return nil, fmt.Errorf("%w: %d active rooms", ErrCapExceeded, s.rooms.Count())
		}
		s.logger.Warn("evicting room at the active-room cap", "room", victim.room.ID())
		s.metrics.RecordRoomEvicted(ctx)
		s.endEntry(ctx, victim, debate.EndReasonEvicted)
	}

	participants := make([]*debate.Participant, 0, len(req.Participants))
	for _, spec := range req.Participants {
		p := &debate.Participant{
			ID:     spec.ID,
			Role:   spec.Role,
			IsUser: spec.Role.IsUser(),
		}
		if !p.IsUser {
			profile := s.catalog.Philosopher(spec.ID)
			if profile == nil {
				return nil, fmt.Errorf("%w: unknown philosopher %q", ErrConfigInvalid, spec.ID)
			}
			p.Capabilities = debate.Capabilities{CanAttack: true, CanDefend: true}
		}
		participants = append(participants, p)
	}

	moderator := s.catalog.Moderator(req.ModeratorStyle)
	if moderator == nil {
		return nil, fmt.Errorf("%w: no moderator style available", ErrConfigInvalid)
	}

	room, err := debate.NewRoom(uuid.NewString(), req.Topic, req.Language, participants, moderator.Key, debate.Config{
		MaxRounds:           s.cfg.MaxRounds,
		SummaryEveryNRounds: s.cfg.SummaryEveryNRounds,
		UserTurnTimeout:     s.cfg.UserTurnTimeout,
	})
	if err != nil {
		return nil, err
	}

	roomCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &roomEntry{room: room, ctx: roomCtx, cancel: cancel}
	if err := s.rooms.Register(room.ID(), entry); err != nil {
		cancel()
		return nil, err
	}
	s.metrics.RecordRoomCreated(ctx)
	s.logger.Info("room created", "room", room.ID(), "topic", req.Topic, "participants", len(participants))

	// Stance generation and opening pre-computation run off the request
	// path; the moderator intro does not depend on them.
	go s.prepareRoom(roomCtx, room)

	return room, nil
}

func (s *Service) prepareRoom(ctx context.Context, room *debate.Room) {
	pro, con, err := s.builder.GenerateStances(ctx, room.Topic())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("stance generation failed", "room", room.ID(), "error", err)
		}
		return
	}
	room.SetStances(pro, con)
	s.preparer.PrepareAll(ctx, room, s.catalog)
	s.persistRoom(ctx, room)
}

// Get returns a live room handle.
func (s *Service) Get(roomID string) (*debate.Room, error) {
	entry, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, ErrUnknownRoom
	}
	return entry.room, nil
}

// Snapshot reads a room's state, falling back to the persisted snapshot for
// rooms that already left the registry.
func (s *Service) Snapshot(ctx context.Context, roomID string) (*debate.Snapshot, error) {
	if entry, ok := s.rooms.Get(roomID); ok {
		snap := entry.room.Snapshot()
		return &snap, nil
	}
	snap, err := s.store.LoadRoomSnapshot(ctx, roomID)
	if err != nil {
		return nil, ErrUnknownRoom
	}
	return snap, nil
}

// Subscribe attaches an event stream to a live room.
func (s *Service) Subscribe(roomID string) (*eventbus.Subscription, error) {
	if _, ok := s.rooms.Get(roomID); !ok {
		return nil, ErrUnknownRoom
	}
	return s.bus.Subscribe(roomID), nil
}

// Unsubscribe detaches an event stream.
func (s *Service) Unsubscribe(roomID string, sub *eventbus.Subscription) {
	s.bus.Unsubscribe(roomID, sub)
}

// End terminates a room: outstanding operations are cancelled, the final
// event is published, and the room leaves the registry. Idempotent.
func (s *Service) End(ctx context.Context, roomID string, reason debate.EndReason) error {
	entry, ok := s.rooms.Get(roomID)
	if !ok {
		return ErrUnknownRoom
	}
	s.endEntry(ctx, entry, reason)
	return nil
}

// endEntry finalizes a room exactly once: registry removal is the gate, so a
// room whose stage machine already completed on its own still gets its final
// event, stream close, and teardown. The first recorded end reason wins.
func (s *Service) endEntry(ctx context.Context, entry *roomEntry, reason debate.EndReason) {
	room := entry.room
	if err := s.rooms.Remove(room.ID()); err != nil {
		return
	}
	room.End(reason)
	entry.cancel()
	s.cancelUserTimer(room.ID())

	_, finalReason := room.Ended()
	s.bus.Publish(eventbus.Event{
		Type:   eventbus.TypeRoomEnded,
		RoomID: room.ID(),
		Reason: finalReason,
	})
	s.bus.CloseRoom(room.ID())

	s.persistRoom(ctx, room)
	s.logger.Info("room ended", "room", room.ID(), "reason", finalReason)
}

// Stats summarizes the live room set.
func (s *Service) Stats() Stats {
	stats := Stats{RoomsByStage: map[debate.Stage]int{}}
	for _, entry := range s.rooms.List() {
		stats.ActiveRooms++
		stats.MemoryEstimate += entry.room.EstimateBytes()
		stats.RoomsByStage[entry.room.Stage()]++
	}
	return stats
}

// Run drives the periodic memory sweep until the context ends.
func (s *Service) Run(ctx context.Context) {
	interval := s.cfg.MemoryCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep evicts rooms while the memory cap is exceeded: oldest inactive rooms
// first, interactive rooms only when nothing else remains.
func (s *Service) sweep(ctx context.Context) {
	limit := int64(s.cfg.MaxMemoryUsageGB * float64(1<<30))
	if limit <= 0 {
		return
	}

	for {
		entries := s.rooms.List()
		var total int64
		for _, entry := range entries {
			total += entry.room.EstimateBytes()
		}
		if total <= limit {
			return
		}

		victim := s.pickVictim(entries, false)
		if victim == nil {
			victim = s.pickVictim(entries, true)
		}
		if victim == nil {
			return
		}
		s.logger.Warn("evicting room over memory cap",
			"room", victim.room.ID(), "total_bytes", total, "limit_bytes", limit)
		s.metrics.RecordRoomEvicted(ctx)
		s.endEntry(ctx, victim, debate.EndReasonEvicted)
	}
}

// pickVictim returns the room with the oldest activity that is not awaiting
// user input; interactive rooms are spared unless includeInteractive is set.
func (s *Service) pickVictim(entries []*roomEntry, includeInteractive bool) *roomEntry {
	var victim *roomEntry
	var victimActivity time.Time
	for _, entry := range entries {
		if awaiting, _ := entry.room.AwaitingUser(); awaiting {
			continue
		}
		if !includeInteractive && entry.room.Stage() == debate.StageInteractive {
			continue
		}
		activity := entry.room.LastActivity()
		if victim == nil || activity.Before(victimActivity) {
			victim = entry
			victimActivity = activity
		}
	}
	return victim
}

// Close ends every room and releases resources.
func (s *Service) Close(ctx context.Context) {
	for _, entry := range s.rooms.List() {
		s.endEntry(ctx, entry, debate.EndReasonCancelled)
	}
}

// persistRoom writes the snapshot behind the turn path.
func (s *Service) persistRoom(ctx context.Context, room *debate.Room) {
	snap := room.Snapshot()
	go func() {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.store.SaveRoom(saveCtx, snap); err != nil {
			s.logger.Warn("failed to persist room", "room", snap.ID, "error", err)
		}
	}()
}

func (s *Service) persistUtterance(ctx context.Context, roomID string, u debate.Utterance) {
	go func() {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.store.SaveUtterance(saveCtx, roomID, u); err != nil {
			s.logger.Warn("failed to persist utterance", "room", roomID, "utterance", u.ID, "error", err)
		}
	}()
}

func (s *Service) cancelUserTimer(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.userTimers[roomID]; ok {
		timer.Stop()
		delete(s.userTimers, roomID)
	}
}
