package precompile

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DualityAddress is the Token-Duality precompile's fixed address: 19 zero
// bytes followed by 0xfd (grounded in original_source's
// ANDE_PRECOMPILE_ADDRESS).
var DualityAddress = common.HexToAddress("0x00000000000000000000000000000000000000fd")

const (
	baseGas    uint64 = 3000
	perWordGas uint64 = 100
	inputWords uint64 = 3 // from, to, value — one 32-byte word each
	inputLen          = 96

	// RequiredGas is the fixed cost of a call: base + per-word × word count.
	RequiredGas = baseGas + perWordGas*inputWords
)

// Journal is the minimal state-mutation primitive the duality contract needs:
// an atomic native-currency transfer that can fail for business reasons
// (insufficient balance) or for state-backend reasons. A nil error means the
// transfer committed.
type Journal interface {
	Transfer(from, to common.Address, value *uint256.Int) error
}

// CallerAllowlist optionally restricts which address may invoke the duality
// precompile. Nil (the default) means any caller is permitted, matching
// spec.md §4.C's explicit default-open stance; a non-nil predicate layers the
// stricter policy the spec describes as belonging in a call inspector, not
// baked into the precompile itself (supplemented from original_source's
// ANDE_TOKEN_ADDRESS caller check).
type CallerAllowlist func(caller common.Address) bool

// DualityContract is the Token-Duality stateful precompile.
type DualityContract struct {
	Allowlist CallerAllowlist
}

// Run executes one call to the duality precompile. suppliedGas is the gas the
// caller made available; readOnly reflects whether the call arrived inside a
// STATICCALL context.
func (c *DualityContract) Run(journal Journal, caller common.Address, input []byte, suppliedGas uint64, readOnly bool) (ret []byte, remainingGas uint64, err error) {
	if readOnly {
		return nil, suppliedGas, ErrStateMutationForbidden
	}
	if len(input) != inputLen {
		return nil, suppliedGas, ErrInvalidInputLength
	}
	if suppliedGas < RequiredGas {
		return nil, suppliedGas, ErrInsufficientGas
	}
	remainingGas = suppliedGas - RequiredGas

	if c.Allowlist != nil && !c.Allowlist(caller) {
		return nil, remainingGas, ErrStateMutationForbidden
	}

	from := common.BytesToAddress(input[12:32])
	to := common.BytesToAddress(input[44:64])
	value := new(uint256.Int).SetBytes(input[64:96])

	if to == (common.Address{}) {
		return nil, remainingGas, ErrTransferToZero
	}

	if value.IsZero() {
		return successOutput(), remainingGas, nil
	}

	if err := journal.Transfer(from, to, value); err != nil {
		var dbErr *DatabaseError
		if errors.As(err, &dbErr) {
			return nil, remainingGas, dbErr
		}
		var txErr *TransferError
		if errors.As(err, &txErr) {
			return nil, remainingGas, txErr
		}
		// Journal implementations that don't distinguish the two classes
		// default to the business-failure rendering.
		return nil, remainingGas, &TransferError{Err: err}
	}

	return successOutput(), remainingGas, nil
}

func successOutput() []byte {
	return []byte{0x01}
}
