package mysql

import "errors"

var (
	// ErrDBRequired is returned by NewStore when the database handle is nil.
	ErrDBRequired = errors.New("coord mysql: database handle is required")
	// ErrExecutorRequired is returned by EnqueueTx when the executor is nil.
	ErrExecutorRequired = errors.New("coord mysql: executor is required")
	// ErrNameRequired is returned when a table name is empty.
	ErrNameRequired = errors.New("coord mysql: table name is required")
	// ErrInvalidName is returned when a table or database name contains
	// characters outside [A-Za-z0-9_].
	ErrInvalidName = errors.New("coord mysql: invalid table name")
)
