// Package precompile implements the Token-Duality precompile (a fixed-address
// EVM contract that performs native-currency transfers through the journal's
// transfer primitive) and the address-dispatch provider that composes it
// with the standard Ethereum precompile set.
package precompile

import "errors"

// Sentinel errors for the duality contract's documented failure modes. The
// strings match spec.md §4.C exactly since they are part of the contract's
// observable behavior (callers may match on revert reason).
var (
	ErrStateMutationForbidden = errors.New("state mutation forbidden")
	ErrInvalidInputLength     = errors.New("invalid input length")
	ErrInsufficientGas        = errors.New("insufficient gas")
	ErrTransferToZero         = errors.New("transfer to zero")
)

// TransferError wraps a business-level transfer failure from the journal
// (e.g. insufficient balance), rendered as "transfer failed: {err}".
type TransferError struct{ Err error }

func (e *TransferError) Error() string { return "transfer failed: " + e.Err.Error() }
func (e *TransferError) Unwrap() error { return e.Err }

// DatabaseError wraps a lower-level state-backend failure, rendered as
// "database error: {db_err}" — distinct from TransferError because it
// indicates a problem with the state backend itself, not the transfer's
// preconditions.
type DatabaseError struct{ Err error }

func (e *DatabaseError) Error() string { return "database error: " + e.Err.Error() }
func (e *DatabaseError) Unwrap() error { return e.Err }
