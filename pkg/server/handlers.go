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
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/rooms"
)

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req rooms.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "CONFIG_INVALID", Message: err.Error()})
		return
	}
	if req.Topic == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "CONFIG_INVALID", Message: "topic is required"})
		return
	}

	room, err := s.service.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	snap := room.Snapshot()
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Snapshot(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.AdvanceTurn(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type submitMessageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "CONFIG_INVALID", Message: err.Error()})
		return
	}
	if req.UserID == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "CONFIG_INVALID", Message: "user_id and text are required"})
		return
	}

	u, err := s.service.SubmitUserMessage(r.Context(), chi.URLParam(r, "roomID"), req.UserID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type endRoomRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleEndRoom(w http.ResponseWriter, r *http.Request) {
	reason := debate.EndReasonCancelled
	var req endRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Reason != "" {
		reason = debate.EndReason(req.Reason)
	}

	if err := s.service.End(r.Context(), chi.URLParam(r, "roomID"), reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Stats())
}

// handleEvents streams room events as SSE until the client disconnects, the
// room ends, or the subscriber falls behind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	sub, err := s.service.Subscribe(roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer s.service.Unsubscribe(roomID, sub)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.C():
			if !open {
				if sub.Err() != nil {
					fmt.Fprintf(w, "event: error\ndata: {\"code\":\"SLOW_CONSUMER\"}\n\n")
					flusher.Flush()
				}
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
