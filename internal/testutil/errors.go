package testutil

import "errors"

// Common test errors
var (
	ErrTestFailure = errors.New("test failure")
	ErrRejected    = errors.New("credential rejected")
)
