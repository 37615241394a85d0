// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package broker

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound is the sentinel matched by errors.Is for every "no handler,
// backend or sub-provider can answer this key" failure.
var ErrKeyNotFound = errors.New("key not found")

// KeyNotFoundError reports the key nobody could answer. It is terminal for
// the current Get call; the core never retries.
type KeyNotFoundError struct {
	Key string
}

// NewKeyNotFound returns a *KeyNotFoundError for the given key.
func NewKeyNotFound(key string) *KeyNotFoundError {
	return &KeyNotFoundError{Key: key}
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key not found: %s", e.Key)
}

// Is lets errors.Is(err, ErrKeyNotFound) match without callers needing the
// concrete type.
func (e *KeyNotFoundError) Is(target error) bool {
	return target == ErrKeyNotFound
}
