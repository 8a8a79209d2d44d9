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

package rooms

import "errors"

var (
	// ErrUnknownRoom is returned for room ids not in the registry.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrCapExceeded is returned when creating a room past max_active_rooms.
	ErrCapExceeded = errors.New("room cap exceeded")

	// ErrConfigInvalid is returned for create requests the catalogue cannot
	// satisfy.
	ErrConfigInvalid = errors.New("config invalid")
)
