// Package statecache provides a fastcache-backed read cache in front of a
// StateProvider. The Payload Driver builds one per parallel
// conflict-detection pass so repeated account reads within that pass hit the
// StateProvider once; the authoritative sequential pass reads through the
// Builder and does not use this cache.
package statecache

import (
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// defaultSizeBytes sizes the cache for a single block's worth of account
// reads; it is rebuilt fresh per block by the caller, never shared across
// blocks, so staleness cannot leak into a later one.
const defaultSizeBytes = 8 * 1024 * 1024

// AccountReader is the read surface statecache wraps — deliberately narrower
// than payload.StateProvider to avoid an import cycle; payload.StateProvider
// returns its own AccountView type, so the payload package bridges the two
// with a small adapter.
type AccountReader interface {
	Account(addr common.Address) (Account, error)
}

// Account mirrors payload.AccountView's shape without importing that
// package; the two are kept in sync by the caller's adapter.
type Account struct {
	Balance *uint256.Int
	Nonce   uint64
	Exists  bool
}

// Cache wraps an AccountReader with a fastcache-backed memoization layer.
type Cache struct {
	backend AccountReader
	store   *fastcache.Cache
}

// New builds a per-block account-read cache in front of backend.
func New(backend AccountReader) *Cache {
	return &Cache{backend: backend, store: fastcache.New(defaultSizeBytes)}
}

// Account returns addr's account view, serving from cache when present.
func (c *Cache) Account(addr common.Address) (Account, error) {
	key := addr.Bytes()
	if buf, ok := c.store.HasGet(nil, key); ok {
		return decodeAccount(buf), nil
	}

	acc, err := c.backend.Account(addr)
	if err != nil {
		return Account{}, err
	}
	c.store.Set(key, encodeAccount(acc))
	return acc, nil
}

// Reset discards every cached entry, for reuse across blocks without
// reallocating the backing arena.
func (c *Cache) Reset() { c.store.Reset() }

func encodeAccount(a Account) []byte {
	buf := make([]byte, 1+8+32)
	if a.Exists {
		buf[0] = 1
	}
	binary.BigEndian.PutUint64(buf[1:9], a.Nonce)
	if a.Balance != nil {
		b := a.Balance.Bytes32()
		copy(buf[9:41], b[:])
	}
	return buf
}

func decodeAccount(buf []byte) Account {
	if len(buf) < 41 {
		return Account{}
	}
	balance := new(uint256.Int).SetBytes(buf[9:41])
	return Account{
		Exists:  buf[0] == 1,
		Nonce:   binary.BigEndian.Uint64(buf[1:9]),
		Balance: balance,
	}
}
