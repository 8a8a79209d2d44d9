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

package debate

import "errors"

// Surface-level error kinds for the room-control API.
var (
	ErrRoomEnded          = errors.New("room ended")
	ErrAwaitingUser       = errors.New("awaiting user input")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrBusy               = errors.New("turn already in progress")
	ErrCompleted          = errors.New("debate completed")
	ErrUnknownParticipant = errors.New("unknown participant")
)
