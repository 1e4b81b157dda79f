package tools

import "errors"

// Argument errors
var (
	ErrMissingArgument    = errors.New("missing required argument")
	ErrDangerousOperation = errors.New("dangerous operation detected")
)
