package client

import "errors"

// Query errors
var (
	ErrEmptyQuery         = errors.New("empty query")
	ErrNotReadOnly        = errors.New("only read-only queries are allowed")
	ErrMultipleStatements = errors.New("multiple statements are not allowed")
	ErrUseSelect          = errors.New("read-only statement, use the select query tool")
)

// Connection errors
var (
	ErrUnsupportedType    = errors.New("unsupported database type")
	ErrReadOnlyConnection = errors.New("connection is read-only")
)
