// Package utils holds small helpers shared across session-keeper: identifier
// generation and duration parsing.
package utils

import (
	"github.com/google/uuid"
	"github.com/lucsky/cuid"
)

// NewLoopID returns an identifier for one refresh loop run. Every spawned
// loop gets a fresh id so log lines from a replaced loop can be told apart
// from its successor.
func NewLoopID() string {
	return uuid.NewString()
}

// NewLoginID returns a short collision-resistant id for an interactive login
// attempt.
func NewLoginID() string {
	return cuid.New()
}
