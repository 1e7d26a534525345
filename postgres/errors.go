package postgres

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("coord postgres: db is required")
	// ErrExecutorRequired is returned when EnqueueTx is called with a nil executor.
	ErrExecutorRequired = errors.New("coord postgres: executor is required")
	// ErrNameRequired is returned when a schema or table name is empty.
	ErrNameRequired = errors.New("coord postgres: name is required")
	// ErrInvalidName is returned when an identifier has disallowed characters.
	ErrInvalidName = errors.New("coord postgres: invalid identifier")
)
