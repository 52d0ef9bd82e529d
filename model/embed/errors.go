// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embed

import (
	"fmt"

	"github.com/juju/errors"
)

var (
	// ErrInvalidConfig is returned by NewModel for invalid construction parameters.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrIndexOutOfRange is returned when a user or item index is outside its range.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrDegenerateBatch is returned for batches without in-batch negatives.
	ErrDegenerateBatch = errors.New("degenerate batch")
	// ErrDiverged is returned when a training step produces a non-finite loss or gradient.
	ErrDiverged = errors.New("numerical divergence")
	// ErrDisposed is returned by every operation on a disposed model.
	ErrDisposed = errors.New("model disposed")
	// ErrResourceExhausted is returned when a model would exceed its parameter budget.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrDimensionMismatch is returned when a vector does not match the model width.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidArgument is returned for malformed arguments such as negative sizes.
	ErrInvalidArgument = errors.New("invalid argument")
)

// IndexError describes an index outside [0, Bound).
type IndexError struct {
	Kind  string
	Index int
	Bound int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%v index %d not in [0, %d): %v", e.Kind, e.Index, e.Bound, ErrIndexOutOfRange)
}

func (e *IndexError) Unwrap() error {
	return ErrIndexOutOfRange
}

func invalidConfig(format string, args ...any) error {
	return errors.Annotatef(ErrInvalidConfig, format, args...)
}

func invalidResource(format string, args ...any) error {
	return errors.Annotatef(ErrResourceExhausted, format, args...)
}
