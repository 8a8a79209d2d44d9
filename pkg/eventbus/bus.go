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

// Package eventbus delivers per-room debate events to subscribers. Delivery
// is per-subscriber FIFO and at-most-once: a subscriber that falls behind
// its buffer is disconnected rather than slowing the room.
package eventbus

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agonhq/agon/pkg/debate"
)

// ErrSlowConsumer marks a subscription dropped for falling behind.
var ErrSlowConsumer = errors.New("slow consumer")

// Type enumerates the event kinds.
type Type string

const (
	TypeTurnStarted  Type = "turn_started"
	TypeThinking     Type = "thinking"
	TypeNewMessage   Type = "new_message"
	TypeStageChanged Type = "stage_changed"
	TypeRoomEnded    Type = "room_ended"
)

// Event is one room event. Utterances are copied by value so subscribers
// never observe later mutation.
type Event struct {
	Type      Type      `json:"type"`
	RoomID    string    `json:"room_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	SpeakerID string      `json:"speaker_id,omitempty"`
	Kind      debate.Kind `json:"kind,omitempty"`
	IsUser    bool        `json:"is_user,omitempty"`

	Utterance *debate.Utterance `json:"utterance,omitempty"`

	From debate.Stage `json:"from,omitempty"`
	To   debate.Stage `json:"to,omitempty"`

	Reason debate.EndReason `json:"reason,omitempty"`
}

// Subscription is one subscriber's event stream. Read from C until it is
// closed, then check Err.
type Subscription struct {
	ID string

	ch     chan Event
	once   sync.Once
	err    error
	closed bool
	mu     sync.Mutex
}

// C is the subscriber's receive channel. Closed on unsubscribe, room end,
// or slow-consumer disconnect.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Err reports why the subscription closed; nil for a clean close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) close(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.closed = true
		s.mu.Unlock()
		close(s.ch)
	})
}

type roomTopic struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	seq  uint64
}

// Bus routes events to per-room subscribers.
type Bus struct {
	buffer int

	mu    sync.RWMutex
	rooms map[string]*roomTopic
}

func New(subscriberBuffer int) *Bus {
	return &Bus{
		buffer: subscriberBuffer,
		rooms:  map[string]*roomTopic{},
	}
}

// Subscribe registers a new subscriber for a room. Only events published
// after this call are delivered.
func (b *Bus) Subscribe(roomID string) *Subscription {
	sub := &Subscription{
		ID: uuid.NewString(),
		ch: make(chan Event, b.buffer),
	}

	b.mu.Lock()
	topic, ok := b.rooms[roomID]
	if !ok {
		topic = &roomTopic{subs: map[string]*Subscription{}}
		b.rooms[roomID] = topic
	}
	b.mu.Unlock()

	topic.mu.Lock()
	topic.subs[sub.ID] = sub
	topic.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel cleanly.
func (b *Bus) Unsubscribe(roomID string, sub *Subscription) {
	b.mu.RLock()
	topic, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	topic.mu.Lock()
	delete(topic.subs, sub.ID)
	topic.mu.Unlock()
	sub.close(nil)
}

// Publish delivers an event to every subscriber of the room. A subscriber
// with a full buffer is disconnected with ErrSlowConsumer; the publisher
// never blocks.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	topic, ok := b.rooms[event.RoomID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	topic.mu.Lock()
	defer topic.mu.Unlock()

	topic.seq++
	event.Seq = topic.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for id, sub := range topic.subs {
		select {
		case sub.ch <- event:
		default:
			delete(topic.subs, id)
			sub.close(ErrSlowConsumer)
		}
	}
}

// CloseRoom drops the room's topic, closing every remaining subscription.
// Call after publishing the final room_ended event.
func (b *Bus) CloseRoom(roomID string) {
	b.mu.Lock()
	topic, ok := b.rooms[roomID]
	delete(b.rooms, roomID)
	b.mu.Unlock()
	if !ok {
		return
	}

	topic.mu.Lock()
	defer topic.mu.Unlock()
	for id, sub := range topic.subs {
		delete(topic.subs, id)
		sub.close(nil)
	}
}

// SubscriberCount reports live subscribers for a room.
func (b *Bus) SubscriberCount(roomID string) int {
	b.mu.RLock()
	topic, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	topic.mu.Lock()
	defer topic.mu.Unlock()
	return len(topic.subs)
}
