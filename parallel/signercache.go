package parallel

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"
)

// signerCacheSize bounds the shared LRU so a pathologically large block
// cannot grow it unbounded; recovery is re-derived on eviction, it is never
// wrong, only slower.
const signerCacheSize = 8192

// SignerCache memoizes ecrecover-derived sender addresses across the
// Dependency Analyzer's pass and the per-transaction execution routine, both
// of which need the same answer for the same transaction within a block.
type SignerCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewSignerCache builds a shared signer-recovery cache.
func NewSignerCache() *SignerCache {
	c, err := lru.New(signerCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which signerCacheSize
		// never is.
		panic(err)
	}
	return &SignerCache{cache: c}
}

// Sender recovers tx's sender under signer, consulting and populating the
// cache by transaction hash.
func (c *SignerCache) Sender(signer types.Signer, tx *types.Transaction) (common.Address, error) {
	h := tx.Hash()

	c.mu.Lock()
	if v, ok := c.cache.Get(h); ok {
		c.mu.Unlock()
		return v.(common.Address), nil
	}
	c.mu.Unlock()

	addr, err := types.Sender(signer, tx)
	if err != nil {
		return common.Address{}, err
	}

	c.mu.Lock()
	c.cache.Add(h, addr)
	c.mu.Unlock()

	return addr, nil
}
