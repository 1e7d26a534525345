package coord

import "errors"

var (
	// ErrKeyRequired is returned when a key, name, or token is empty.
	ErrKeyRequired = errors.New("coord: key is required")
	// ErrKeyTooLong is returned when a key exceeds MaxKeyLength characters.
	ErrKeyTooLong = errors.New("coord: key is too long")
	// ErrOwnerRequired is returned when an owner token is empty.
	ErrOwnerRequired = errors.New("coord: owner token is required")
	// ErrTTLInvalid is returned when a lock or lease duration is not positive.
	ErrTTLInvalid = errors.New("coord: ttl must be positive")
	// ErrPayloadRequired is returned when a message or work item payload is empty.
	ErrPayloadRequired = errors.New("coord: payload is required")
	// ErrMaxAttemptsInvalid is returned when a retry limit is not positive.
	ErrMaxAttemptsInvalid = errors.New("coord: max attempts must be positive")
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("coord: batch size must be positive")
	// ErrStaleOwner indicates the owner token no longer holds the claim it is
	// trying to complete, fail, or renew. The caller lost exclusivity and must
	// abort its in-flight work.
	ErrStaleOwner = errors.New("coord: owner no longer holds the claim")
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("coord: not found")
	// ErrInvalidID is returned when parsing or scanning an ID fails.
	ErrInvalidID = errors.New("coord: id is invalid")
	// ErrSenderPanic indicates a relay sender panic.
	ErrSenderPanic = errors.New("coord: sender panic")
	// ErrPrunerRequired is returned when a nil Pruner is provided.
	ErrPrunerRequired = errors.New("coord: pruner is required")
	// ErrRetentionInvalid is returned when the retention period is not positive.
	ErrRetentionInvalid = errors.New("coord: retention must be positive")
)
