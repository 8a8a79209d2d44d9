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

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agonhq/agon/pkg/builder"
	"github.com/agonhq/agon/pkg/catalog"
	"github.com/agonhq/agon/pkg/config"
	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/eventbus"
	"github.com/agonhq/agon/pkg/llms"
	"github.com/agonhq/agon/pkg/rag"
	"github.com/agonhq/agon/pkg/rooms"
	"github.com/agonhq/agon/pkg/strategy"
)

// newTestHandler wires a server over a room service with no model providers.
// Turn generation always resolves through the deterministic fallback, which
// is enough to exercise the HTTP surface.
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	cat := &catalog.Catalog{
		Philosophers: map[string]*catalog.PhilosopherProfile{
			"kant":      {Key: "kant", Name: "Immanuel Kant"},
			"nietzsche": {Key: "nietzsche", Name: "Friedrich Nietzsche"},
		},
		Moderators: map[string]*catalog.ModeratorStyle{
			"socratic_host": {Key: "socratic_host", Name: "The Socratic Host"},
		},
		DefaultModerator: "socratic_host",
	}
	svc := rooms.NewService(rooms.Options{
		Config: &config.DebateConfig{
			MaxActiveRooms:  4,
			MaxRounds:       0,
			UserTurnTimeout: time.Minute,
		},
		Catalog: cat,
		Builder: builder.New(llms.NewRegistry(), time.Second),
		Bus:     eventbus.New(32),
	})
	s := New(&config.ServerConfig{Host: "127.0.0.1", Port: 0}, svc)
	return s.http.Handler
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const createBody = `{
	"topic": "Is free will an illusion?",
	"participants": [
		{"id": "kant", "role": "pro"},
		{"id": "nietzsche", "role": "con"}
	]
}`

func createRoom(t *testing.T, h http.Handler) debate.Snapshot {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/v1/rooms", createBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", w.Code, w.Body.String())
	}
	var snap debate.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestCreateRoom(t *testing.T) {
	h := newTestHandler(t)
	snap := createRoom(t, h)

	if snap.ID == "" || snap.Stage != debate.StageModeratorIntro {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if len(snap.Participants) != 2 {
		t.Errorf("participants %+v", snap.Participants)
	}

	w := doJSON(t, h, http.MethodGet, "/v1/rooms/"+snap.ID+"/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot: status %d", w.Code)
	}
}

func TestCreateRoomRejectsBadRequests(t *testing.T) {
	h := newTestHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"topic": `},
		{"missing topic", `{"participants": [{"id": "kant", "role": "pro"}]}`},
		{"unknown philosopher", strings.Replace(createBody, "kant", "socrates", 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/v1/rooms", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status %d body %s", w.Code, w.Body.String())
			}
			if body := decodeError(t, w); body.Code != "CONFIG_INVALID" {
				t.Errorf("code %q", body.Code)
			}
		})
	}
}

func TestUnknownRoomRoutes(t *testing.T) {
	h := newTestHandler(t)

	for _, tc := range []struct {
		method, path, body string
	}{
		{http.MethodGet, "/v1/rooms/ghost/", ""},
		{http.MethodPost, "/v1/rooms/ghost/advance", ""},
		{http.MethodPost, "/v1/rooms/ghost/messages", `{"user_id": "alice", "text": "hi"}`},
		{http.MethodDelete, "/v1/rooms/ghost/", ""},
	} {
		w := doJSON(t, h, tc.method, tc.path, tc.body)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s: status %d", tc.method, tc.path, w.Code)
			continue
		}
		if body := decodeError(t, w); body.Code != "UNKNOWN_ROOM" {
			t.Errorf("%s %s: code %q", tc.method, tc.path, body.Code)
		}
	}
}

func TestAdvanceAndEnd(t *testing.T) {
	h := newTestHandler(t)
	snap := createRoom(t, h)

	w := doJSON(t, h, http.MethodPost, "/v1/rooms/"+snap.ID+"/advance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("advance: status %d body %s", w.Code, w.Body.String())
	}
	var result rooms.TurnResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Utterance == nil || result.Utterance.Kind != debate.KindModeratorIntro {
		t.Errorf("unexpected result %+v", result)
	}
	if result.Stage != debate.StageProOpening {
		t.Errorf("stage %s", result.Stage)
	}

	w = doJSON(t, h, http.MethodDelete, "/v1/rooms/"+snap.ID+"/", `{"reason": "cancelled"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("end: status %d", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/v1/rooms/"+snap.ID+"/advance", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("advance after end: status %d", w.Code)
	}
}

func TestSubmitMessageValidation(t *testing.T) {
	h := newTestHandler(t)
	snap := createRoom(t, h)

	w := doJSON(t, h, http.MethodPost, "/v1/rooms/"+snap.ID+"/messages", `{"user_id": "", "text": ""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}

	// No user turn is pending, so even a known participant is out of turn.
	w = doJSON(t, h, http.MethodPost, "/v1/rooms/"+snap.ID+"/messages", `{"user_id": "kant", "text": "hello"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if body := decodeError(t, w); body.Code != "NOT_YOUR_TURN" {
		t.Errorf("code %q", body.Code)
	}
}

func TestStatsAndHealth(t *testing.T) {
	h := newTestHandler(t)
	createRoom(t, h)

	w := doJSON(t, h, http.MethodGet, "/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status %d", w.Code)
	}
	var stats rooms.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.ActiveRooms != 1 {
		t.Errorf("active rooms %d", stats.ActiveRooms)
	}

	w = doJSON(t, h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("healthz: status %d", w.Code)
	}
}

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{rooms.ErrUnknownRoom, "UNKNOWN_ROOM", http.StatusNotFound},
		{rooms.ErrCapExceeded, "CAP_EXCEEDED", http.StatusTooManyRequests},
		{rooms.ErrConfigInvalid, "CONFIG_INVALID", http.StatusBadRequest},
		{debate.ErrNotYourTurn, "NOT_YOUR_TURN", http.StatusConflict},
		{debate.ErrAwaitingUser, "AWAITING_USER", http.StatusConflict},
		{debate.ErrBusy, "BUSY", http.StatusConflict},
		{debate.ErrCompleted, "COMPLETED", http.StatusGone},
		{debate.ErrRoomEnded, "ROOM_ENDED", http.StatusGone},
		{debate.ErrUnknownParticipant, "UNKNOWN_PARTICIPANT", http.StatusNotFound},
		{llms.ErrTimeout, "LLM_TIMEOUT", http.StatusGatewayTimeout},
		{llms.ErrSchemaInvalid, "LLM_SCHEMA", http.StatusBadGateway},
		{rag.ErrTimeout, "RAG_TIMEOUT", http.StatusGatewayTimeout},
		{strategy.ErrUnknown, "STRATEGY_UNKNOWN", http.StatusBadRequest},
		{strategy.ErrEmpty, "STRATEGY_EMPTY", http.StatusBadRequest},
		{errors.New("anything else"), "INTERNAL", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, status := codeFor(tc.err)
		if code != tc.code || status != tc.status {
			t.Errorf("codeFor(%v) = %s/%d, want %s/%d", tc.err, code, status, tc.code, tc.status)
		}
	}
}
