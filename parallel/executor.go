package parallel

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	mapset "github.com/deckarep/golang-set/v2"
)

// AccountReader is the minimal read-only view of chain state the executor
// needs to compute per-transaction deltas. The caller (the Payload Driver)
// owns the real StateProvider collaborator; this package only needs enough
// of it to read each sender's current nonce for its post-transaction nonce.
type AccountReader interface {
	GetNonce(addr common.Address) uint64
}

const (
	txGasBase             = 21000
	txGasPerZeroByte      = 4
	txGasPerNonZeroByte   = 16
	txGasContractCreation = 32000
	txGasPerAccessAddress = 2400
	txGasPerAccessSlot    = 1900
)

// IntrinsicGas computes a transaction's base gas cost exactly as spec.md
// §4.F enumerates it: the 21000 floor, calldata byte costs, the contract
// creation surcharge, and EIP-2930 access-list costs.
func IntrinsicGas(tx *types.Transaction) uint64 {
	gas := uint64(txGasBase)

	data := tx.Data()
	for _, b := range data {
		if b == 0 {
			gas += txGasPerZeroByte
		} else {
			gas += txGasPerNonZeroByte
		}
	}

	if tx.To() == nil {
		gas += txGasContractCreation
	}

	al := tx.AccessList()
	gas += uint64(len(al)) * txGasPerAccessAddress
	for _, tuple := range al {
		gas += uint64(len(tuple.StorageKeys)) * txGasPerAccessSlot
	}

	return gas
}

// Executor runs single transactions in isolation, producing the per-account
// deltas and read/write footprint the Scheduler needs to detect conflicts.
type Executor struct {
	cfg            Config
	mvm            *MVM
	signers        *SignerCache
	reader         AccountReader
	dualityAddress common.Address
}

// NewExecutor builds an Executor. dualityAddress identifies the Token-Duality
// precompile so transfers into it can be routed through the MVM's lazy
// accumulator instead of the conflict-sensitive path.
func NewExecutor(cfg Config, mvm *MVM, signers *SignerCache, reader AccountReader, dualityAddress common.Address) *Executor {
	return &Executor{cfg: cfg, mvm: mvm, signers: signers, reader: reader, dualityAddress: dualityAddress}
}

// ErrIntrinsicGasTooLow is returned (wrapped in the failed ExecutionResult's
// Err) when a transaction's gas limit cannot even cover its intrinsic cost
// (spec.md §4.F step 3).
var ErrIntrinsicGasTooLow = errors.New("intrinsic gas too low")

// ExecuteOne runs a single transaction at the given incarnation, producing
// its isolated result. It never mutates externally-visible state directly:
// balance changes land either in the returned Changes map or, for hot
// accounts (the fee recipient, the duality address) under lazy updates, in
// the MVM's commutative accumulator.
func (e *Executor) ExecuteOne(attrs BlockAttrs, idx TxIndex, incarnation Incarnation) ExecutionResult {
	tx := attrs.Transactions[idx]

	sender, err := e.signers.Sender(attrs.Signer, tx)
	if err != nil {
		return ExecutionResult{TxIdx: idx, Incarnation: incarnation, Success: false, Err: fmt.Errorf("recovering sender: %w", err)}
	}

	intrinsicGas := IntrinsicGas(tx)
	if tx.Gas() < intrinsicGas {
		return ExecutionResult{TxIdx: idx, Incarnation: incarnation, Success: false, Err: ErrIntrinsicGasTooLow}
	}

	gasCost := new(big.Int).Mul(tx.GasPrice(), new(big.Int).SetUint64(tx.Gas()))
	value := tx.Value()
	debit := new(big.Int).Add(gasCost, value)

	negDebit := new(big.Int).Neg(debit)
	if !Fits128(negDebit) {
		// spec.md §9: an out-of-range gas debit must be rejected outright,
		// never silently clamped into the saturation range.
		return ExecutionResult{TxIdx: idx, Incarnation: incarnation, Success: false,
			Err: fmt.Errorf("tx %d: gas/value debit %s exceeds representable balance change", idx, debit)}
	}

	nextNonce := e.reader.GetNonce(sender) + 1

	changes := make(map[common.Address]AccountChange)
	readSet := mapset.NewThreadUnsafeSet[common.Address]()
	writeSet := mapset.NewThreadUnsafeSet[common.Address]()

	changes[sender] = AccountChange{
		BalanceChange: NewInt128FromBigInt(negDebit),
		PostNonce:     &nextNonce,
	}
	readSet.Add(sender)
	writeSet.Add(sender)

	// The fee recipient is the hottest account in the block: nearly every
	// transaction pays it. Routing gas payments through the MVM's lazy
	// accumulator, exactly like the duality address below, keeps it out of
	// the conflict graph entirely (spec.md §4.B, "the single most important
	// optimization in the engine").
	if attrs.FeeRecipient != (common.Address{}) {
		if e.cfg.EnableLazyUpdates {
			u256GasCost, overflow := uint256.FromBig(gasCost)
			if overflow {
				return ExecutionResult{TxIdx: idx, Incarnation: incarnation, Success: false,
					Err: fmt.Errorf("tx %d: gas payment overflows uint256", idx)}
			}
			e.mvm.AddLazyAddition(attrs.FeeRecipient, u256GasCost, idx)
		} else {
			readSet.Add(attrs.FeeRecipient)
			writeSet.Add(attrs.FeeRecipient)
			changes[attrs.FeeRecipient] = changes[attrs.FeeRecipient].MergeInto(AccountChange{BalanceChange: NewInt128FromBigInt(gasCost)})
		}
	}

	if to := tx.To(); to != nil {
		readSet.Add(*to)
		if *to == e.dualityAddress && e.cfg.EnableLazyUpdates {
			u256Value, overflow := uint256.FromBig(value)
			if overflow {
				return ExecutionResult{TxIdx: idx, Incarnation: incarnation, Success: false,
					Err: fmt.Errorf("tx %d: value overflows uint256", idx)}
			}
			e.mvm.AddLazyAddition(*to, u256Value, idx)
			// The duality address is intentionally excluded from writeSet:
			// its update is commutative and handled outside the conflict
			// graph entirely (spec.md §4.B/§4.C).
		} else {
			writeSet.Add(*to)
			changes[*to] = changes[*to].MergeInto(AccountChange{BalanceChange: NewInt128FromBigInt(value)})
		}
	}

	return ExecutionResult{
		TxIdx:       idx,
		Incarnation: incarnation,
		GasUsed:     intrinsicGas,
		Success:     true,
		Changes:     changes,
		ReadSet:     readSet,
		WriteSet:    writeSet,
	}
}

// RunParallel drives the worker pool until the scheduler quiesces, returning
// the final per-transaction results plus any transactions that failed
// (unsuccessful execution or an exhausted retry budget). Workers that panic on a logic bug are allowed to crash
// the pool rather than have their panic swallowed; each worker logs the
// panic before re-raising it so the cause isn't lost in the goroutine teardown.
func (e *Executor) RunParallel(attrs BlockAttrs, sched *Scheduler) (results []*ExecutionResult, failed []TxIndex) {
	var wg sync.WaitGroup
	workers := e.cfg.ConcurrencyLevel
	if workers < 1 {
		workers = 1
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("parallel executor worker panicked", "panic", r)
					panic(r)
				}
			}()
			defer wg.Done()
			e.workerLoop(attrs, sched)
		}()
	}

	wg.Wait()
	return sched.Results(), sched.FailedIndices()
}

func (e *Executor) workerLoop(attrs BlockAttrs, sched *Scheduler) {
	for {
		task, ok := sched.NextTask()
		if !ok {
			return
		}
		switch task.Kind {
		case TaskExecute:
			res := e.ExecuteOne(attrs, task.TxIdx, task.Incarnation)
			sched.FinishExecution(res)
		case TaskValidate:
			sched.FinishValidation(task.TxIdx)
		}
	}
}

// RunSequential executes every transaction in order with no conflict
// detection, the engine's fallback for small blocks or forced sequential
// mode (spec.md §4.F).
func (e *Executor) RunSequential(attrs BlockAttrs) []*ExecutionResult {
	n := len(attrs.Transactions)
	out := make([]*ExecutionResult, n)
	for i := 0; i < n; i++ {
		res := e.ExecuteOne(attrs, TxIndex(i), 0)
		out[i] = &res
	}
	return out
}

// Execute picks a mode per Config.ShouldUseParallel, runs it, and folds the
// MVM's lazily-accumulated hot-account changes in via MergeInto: balance
// changes for the same account are summed, while a later post-nonce or
// storage write replaces an earlier one.
func (e *Executor) Execute(attrs BlockAttrs, deps []Dependency) (map[common.Address]AccountChange, []TxIndex) {
	n := len(attrs.Transactions)

	var results []*ExecutionResult
	var failed []TxIndex

	if e.cfg.ShouldUseParallel(n) {
		sched := NewScheduler(deps, e.cfg.MaxRetries)
		results, failed = e.RunParallel(attrs, sched)
	} else {
		results = e.RunSequential(attrs)
	}

	merged := make(map[common.Address]AccountChange)
	for _, res := range results {
		if res == nil || !res.Success {
			continue
		}
		for addr, change := range res.Changes {
			if existing, ok := merged[addr]; ok {
				merged[addr] = existing.MergeInto(change)
			} else {
				merged[addr] = change
			}
		}
	}

	for addr, change := range e.mvm.EvaluateLazy() {
		if existing, ok := merged[addr]; ok {
			merged[addr] = existing.MergeInto(change)
		} else {
			merged[addr] = change
		}
	}

	return merged, failed
}
