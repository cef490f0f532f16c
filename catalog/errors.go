/*
	Timelinize
	Copyright (c) 2013 Matthew Holt

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package catalog

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every error that rejects an input
// before anything is written.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidID      = fmt.Errorf("%w: missing or malformed photo identifier", ErrValidation)
	ErrInvalidVersion = fmt.Errorf("%w: version label is required", ErrValidation)
	ErrUnknownLibrary = fmt.Errorf("%w: library does not exist", ErrValidation)
	ErrUnknownOwner   = fmt.Errorf("%w: owner does not exist", ErrValidation)
)

var (
	// ErrAlreadyExists is returned when creating a photo whose identifier
	// is already in the catalog. Callers may fall back to an update.
	ErrAlreadyExists = errors.New("photo already exists")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTaskTransition is returned when a task cannot move to the
	// requested status from its current one.
	ErrTaskTransition = errors.New("invalid task status transition")
)
