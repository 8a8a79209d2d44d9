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

	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/llms"
	"github.com/agonhq/agon/pkg/rag"
	"github.com/agonhq/agon/pkg/rooms"
	"github.com/agonhq/agon/pkg/strategy"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// codeFor maps engine errors onto stable API codes and HTTP statuses.
func codeFor(err error) (string, int) {
	switch {
	case errors.Is(err, rooms.ErrUnknownRoom):
		return "UNKNOWN_ROOM", http.StatusNotFound
	case errors.Is(err, rooms.ErrCapExceeded):
		return "CAP_EXCEEDED", http.StatusTooManyRequests
	case errors.Is(err, rooms.ErrConfigInvalid):
		return "CONFIG_INVALID", http.StatusBadRequest
	case errors.Is(err, debate.ErrNotYourTurn):
		return "NOT_YOUR_TURN", http.StatusConflict
	case errors.Is(err, debate.ErrAwaitingUser):
		return "AWAITING_USER", http.StatusConflict
	case errors.Is(err, debate.ErrBusy):
		return "BUSY", http.StatusConflict
	case errors.Is(err, debate.ErrCompleted):
		return "COMPLETED", http.StatusGone
	case errors.Is(err, debate.ErrRoomEnded):
		return "ROOM_ENDED", http.StatusGone
	case errors.Is(err, debate.ErrUnknownParticipant):
		return "UNKNOWN_PARTICIPANT", http.StatusNotFound
	case errors.Is(err, llms.ErrTimeout):
		return "LLM_TIMEOUT", http.StatusGatewayTimeout
	case errors.Is(err, llms.ErrSchemaInvalid):
		return "LLM_SCHEMA", http.StatusBadGateway
	case errors.Is(err, rag.ErrTimeout):
		return "RAG_TIMEOUT", http.StatusGatewayTimeout
	case errors.Is(err, strategy.ErrUnknown):
		return "STRATEGY_UNKNOWN", http.StatusBadRequest
	case errors.Is(err, strategy.ErrEmpty):
		return "STRATEGY_EMPTY", http.StatusBadRequest
	default:
		return "INTERNAL", http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, status := codeFor(err)
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
