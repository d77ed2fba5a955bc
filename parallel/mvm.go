package parallel

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// mvmStripes shards the MVM's lazy-account map to cut contention on hot
// accounts (spec.md §9's striping alternative to a single coarse lock,
// which this implementation adopts outright).
const mvmStripes = 64

// lazyAccount is one account's deferred balance/nonce accumulator.
// additions/subtractions are keyed by tx index so a retried transaction's
// entry is idempotently replaced rather than appended twice (spec.md §4.B:
// "all idempotent with respect to a given (tx_idx, incarnation)").
type lazyAccount struct {
	mu              sync.Mutex
	baseSet         bool
	baseBalance     *uint256.Int
	baseNonce       uint64
	additions       map[TxIndex]*uint256.Int
	subtractions    map[TxIndex]*uint256.Int
	nonceIncrements map[TxIndex]struct{}
}

func newLazyAccount() *lazyAccount {
	return &lazyAccount{
		additions:       make(map[TxIndex]*uint256.Int),
		subtractions:    make(map[TxIndex]*uint256.Int),
		nonceIncrements: make(map[TxIndex]struct{}),
	}
}

// MVM is the engine's per-block multi-version memory: a striped map of lazy
// accumulators for hot accounts (fee recipient, duality precompile) whose
// balance updates commute and so never enter the conflict graph.
type MVM struct {
	stripes [mvmStripes]struct {
		mu       sync.Mutex
		accounts map[common.Address]*lazyAccount
	}
}

// NewMVM builds an empty multi-version memory.
func NewMVM() *MVM {
	m := &MVM{}
	for i := range m.stripes {
		m.stripes[i].accounts = make(map[common.Address]*lazyAccount)
	}
	return m
}

func stripeFor(addr common.Address) int {
	var h uint32
	for _, b := range addr {
		h = h*31 + uint32(b)
	}
	return int(h % mvmStripes)
}

func (m *MVM) entry(addr common.Address) *lazyAccount {
	s := &m.stripes[stripeFor(addr)]
	s.mu.Lock()
	defer s.mu.Unlock()
	la, ok := s.accounts[addr]
	if !ok {
		la = newLazyAccount()
		s.accounts[addr] = la
	}
	return la
}

// AddLazyAddition records a pending balance increase for addr originating
// from tx_idx. Idempotent: a later call with the same tx_idx (a retried
// incarnation) replaces the earlier amount rather than adding to it.
func (m *MVM) AddLazyAddition(addr common.Address, amount *uint256.Int, txIdx TxIndex) {
	la := m.entry(addr)
	la.mu.Lock()
	defer la.mu.Unlock()
	la.additions[txIdx] = new(uint256.Int).Set(amount)
}

// AddLazySubtraction records a pending balance decrease for addr from tx_idx.
func (m *MVM) AddLazySubtraction(addr common.Address, amount *uint256.Int, txIdx TxIndex) {
	la := m.entry(addr)
	la.mu.Lock()
	defer la.mu.Unlock()
	la.subtractions[txIdx] = new(uint256.Int).Set(amount)
}

// AddLazyNonceIncrement records that tx_idx increments addr's nonce by one.
func (m *MVM) AddLazyNonceIncrement(addr common.Address, txIdx TxIndex) {
	la := m.entry(addr)
	la.mu.Lock()
	defer la.mu.Unlock()
	la.nonceIncrements[txIdx] = struct{}{}
}

// SetBase seeds an account's external-state baseline. It must never
// overwrite lazy entries already recorded — only the base itself.
func (m *MVM) SetBase(addr common.Address, balance *uint256.Int, nonce uint64) {
	la := m.entry(addr)
	la.mu.Lock()
	defer la.mu.Unlock()
	la.baseBalance = new(uint256.Int).Set(balance)
	la.baseNonce = nonce
	la.baseSet = true
}

// EvaluateLazy computes, for every lazy account touched this block, the
// saturating balance_change and optional post_nonce (spec.md §4.B). Pure:
// it does not clear any state.
func (m *MVM) EvaluateLazy() map[common.Address]AccountChange {
	out := make(map[common.Address]AccountChange)
	for i := range m.stripes {
		s := &m.stripes[i]
		s.mu.Lock()
		addrs := make([]common.Address, 0, len(s.accounts))
		accounts := make([]*lazyAccount, 0, len(s.accounts))
		for addr, la := range s.accounts {
			addrs = append(addrs, addr)
			accounts = append(accounts, la)
		}
		s.mu.Unlock()

		for i, addr := range addrs {
			la := accounts[i]
			la.mu.Lock()
			change := evaluateAccount(la)
			la.mu.Unlock()
			out[addr] = change
		}
	}
	return out
}

// evaluateAccount folds an account's recorded additions/subtractions into a
// single saturating delta. The base balance/nonce anchor post_nonce but are
// not themselves part of the emitted change, which is a delta, not an
// absolute value (spec.md §4.B).
func evaluateAccount(la *lazyAccount) AccountChange {
	delta := new(big.Int)
	for _, amt := range la.additions {
		delta.Add(delta, amt.ToBig())
	}
	for _, amt := range la.subtractions {
		delta.Sub(delta, amt.ToBig())
	}

	balanceChange := NewInt128FromBigInt(delta)

	var postNonce *uint64
	if len(la.nonceIncrements) > 0 {
		n := la.baseNonce + uint64(len(la.nonceIncrements))
		postNonce = &n
	}

	return AccountChange{
		BalanceChange: balanceChange,
		PostNonce:     postNonce,
		Storage:       nil,
	}
}

// Clear empties all lazy accumulators. Callers invoke this explicitly
// between blocks; EvaluateLazy never clears on its own (spec.md §4.B).
func (m *MVM) Clear() {
	for i := range m.stripes {
		s := &m.stripes[i]
		s.mu.Lock()
		s.accounts = make(map[common.Address]*lazyAccount)
		s.mu.Unlock()
	}
}

// TouchedAccounts returns the set of addresses with a lazy entry, primarily
// for tests asserting the hot-account contention scenarios in spec.md §8.
func (m *MVM) TouchedAccounts() []common.Address {
	var out []common.Address
	for i := range m.stripes {
		s := &m.stripes[i]
		s.mu.Lock()
		for addr := range s.accounts {
			out = append(out, addr)
		}
		s.mu.Unlock()
	}
	return out
}
