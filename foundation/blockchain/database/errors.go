package database

import "errors"

// Set of errors the validation rules can return. Callers are expected to
// match on these with errors.Is since the functions wrap them with detail.
var (
	// ErrInvalidFormat is returned when a transaction or block carries a
	// malformed field or an id that does not match its recomputation.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidSignature is returned when a signature does not verify or
	// the public key does not belong to the claimed sender.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInsufficientFunds is returned when the sender's confirmed balance
	// cannot cover the amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDoubleSpend is returned when the confirmed balance could cover the
	// transaction but pending transactions already reserve those funds.
	ErrDoubleSpend = errors.New("double spend")

	// ErrInvalidProofOfWork is returned when a block hash fails the
	// difficulty predicate or does not match its recomputation.
	ErrInvalidProofOfWork = errors.New("invalid proof of work")

	// ErrChainLinkMismatch is returned when a block does not link to its
	// parent by hash or index.
	ErrChainLinkMismatch = errors.New("chain link mismatch")

	// ErrBlockNotFound is returned when a block is requested by a number
	// the chain does not contain.
	ErrBlockNotFound = errors.New("block not found")

	// ErrStorageUnavailable is returned when persistence failed and the
	// in-memory state was left untouched.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
