// Package parallel implements the Block-STM-style optimistic parallel
// transaction executor: dependency analysis, a multi-version memory that
// defers hot-account balance updates to commit time, a priority scheduler,
// and the worker-driven executor itself.
package parallel

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	mapset "github.com/deckarep/golang-set/v2"
)

// TxIndex is a transaction's 0-based position within a block.
type TxIndex int

// Incarnation counts execution attempts for a transaction, starting at 0 and
// incrementing monotonically on every conflict-triggered retry.
type Incarnation uint32

// TxVersion uniquely identifies one execution attempt.
type TxVersion struct {
	TxIdx       TxIndex
	Incarnation Incarnation
}

// Status is a transaction's scheduler state. Ready is the initial state;
// Completed and Failed are terminal.
type Status int

const (
	StatusReady Status = iota
	StatusExecuting
	StatusCompleted
	StatusFailed
	// StatusBlocked marks a transaction waiting on unfinished dependencies.
	// Status is a plain comparable value; which dependency it waits on is
	// not recorded in it.
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Dependency records one transaction's static dependency edges and its
// read/write footprint, as produced by the Dependency Analyzer.
//
// Invariant: i is in DependsOn(j) iff j is in Dependents(i).
type Dependency struct {
	DependsOn     mapset.Set[TxIndex]
	Dependents    mapset.Set[TxIndex]
	ReadAccounts  mapset.Set[common.Address]
	WriteAccounts mapset.Set[common.Address]
}

func newDependency() Dependency {
	return Dependency{
		DependsOn:     mapset.NewThreadUnsafeSet[TxIndex](),
		Dependents:    mapset.NewThreadUnsafeSet[TxIndex](),
		ReadAccounts:  mapset.NewThreadUnsafeSet[common.Address](),
		WriteAccounts: mapset.NewThreadUnsafeSet[common.Address](),
	}
}

// AccountChange is a per-account delta produced by one transaction's
// execution: a saturating signed balance change, an optional post-execution
// nonce, and any storage-slot writes.
type AccountChange struct {
	BalanceChange Int128
	PostNonce     *uint64
	Storage       map[common.Hash]common.Hash
}

// MergeInto folds other on top of c for the same account: the two balance
// changes are summed (both are deltas), while other's PostNonce and storage
// slots replace c's wherever other sets them.
func (c AccountChange) MergeInto(other AccountChange) AccountChange {
	merged := AccountChange{
		BalanceChange: c.BalanceChange.Add(other.BalanceChange),
		PostNonce:     c.PostNonce,
		Storage:       make(map[common.Hash]common.Hash, len(c.Storage)+len(other.Storage)),
	}
	if other.PostNonce != nil {
		merged.PostNonce = other.PostNonce
	}
	for k, v := range c.Storage {
		merged.Storage[k] = v
	}
	for k, v := range other.Storage {
		merged.Storage[k] = v
	}
	return merged
}

// ExecutionResult is the outcome of one worker's attempt to run a
// transaction at a given incarnation.
type ExecutionResult struct {
	TxIdx       TxIndex
	Incarnation Incarnation
	GasUsed     uint64
	Success     bool
	Err         error
	Changes     map[common.Address]AccountChange
	ReadSet     mapset.Set[common.Address]
	WriteSet    mapset.Set[common.Address]
}

// BlockAttrs carries the portion of a payload-attribute bundle the parallel
// engine needs: fee recipient plus the ordered transaction list. The rest of
// spec.md §6's payload attribute bundle (parent hash, timestamp, prev_randao,
// withdrawals, beacon root) is consumed only by the Payload Driver.
type BlockAttrs struct {
	FeeRecipient common.Address
	Transactions []*types.Transaction
	Signer       types.Signer
}
