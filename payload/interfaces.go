// Package payload implements the Payload Driver: the orchestration layer
// that decides parallel vs. sequential execution mode for a block, runs the
// parallel pass for conflict detection, and drives the authoritative
// sequential pass through an externally supplied BlockBuilder.
package payload

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Header is the minimal parent-block view the driver needs.
type Header struct {
	Hash       common.Hash
	Number     uint64
	GasLimit   uint64
	Time       uint64
	ParentHash common.Hash
}

// AccountView is a point-in-time snapshot of one account.
type AccountView struct {
	Balance *uint256.Int
	Nonce   uint64
	Exists  bool
}

// PayloadAttributes is the subset of a payload-attribute bundle the driver
// consumes — the rest (withdrawals, beacon root) passes through Builder
// untouched.
type PayloadAttributes struct {
	ParentHash   common.Hash
	Timestamp    uint64
	PrevRandao   common.Hash
	FeeRecipient common.Address
	GasLimit     *uint64
	Transactions []*types.Transaction
	Signer       types.Signer
}

// StateProvider is a read-only view of chain state as of a specific block.
type StateProvider interface {
	Account(addr common.Address) (AccountView, error)
	Storage(addr common.Address, slot common.Hash) (common.Hash, error)
}

// StateProviderFactory resolves the state to build the next block on top of.
type StateProviderFactory interface {
	LatestState() (StateProvider, error)
}

// HeaderProvider resolves a block header by hash.
type HeaderProvider interface {
	Header(hash common.Hash) (*Header, bool)
}

// Outcome is what a Builder produces once a block is sealed.
type Outcome struct {
	BlockNumber uint64
	BlockHash   common.Hash
	GasUsed     uint64
}

// Builder drives one block's sequential construction. It is the single
// authoritative pass: the parallel pass run before it is a conflict-detection
// pass whose results are not applied, never a replacement for this call
// sequence (spec.md §9 open question 1).
type Builder interface {
	ApplyPreExecutionChanges() error
	ExecuteTransaction(tx *types.Transaction) (gasUsed uint64, err error)
	Finish(state StateProvider) (*Outcome, error)
}

// BlockBuilderFactory constructs a Builder for the next block.
type BlockBuilderFactory interface {
	BuilderForNextBlock(state StateProvider, parent *Header, attrs PayloadAttributes) (Builder, error)
}

// AttestationSink optionally publishes a signed attestation for a sealed
// block. A failure here is logged, never fatal to block production
// (spec.md §4.G/§7).
type AttestationSink interface {
	Attest(ctx context.Context, blockNumber uint64, blockHash common.Hash) (common.Hash, error)
}

// ProposerGate optionally restricts which address may propose the next
// block. A nil ProposerGate means any caller may propose.
type ProposerGate interface {
	ProducerFor(ctx context.Context, blockIdentifier common.Hash) (common.Address, error)
}
