package zkverify

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
)

const defaultProofCacheSize = 4096

// proofCache memoizes single-proof verification results keyed by a hash of
// the proof's content. Batch verification never consults this cache (spec
// §4.6: batch results are never cached); it exists for callers that check
// a single transaction's proof outside of batch context, e.g. mempool
// admission.
type proofCache struct {
	cache *lru.Cache[[32]byte, bool]
	hits  uint64
	miss  uint64
}

func newProofCache(size int) (*proofCache, error) {
	if size <= 0 {
		size = defaultProofCacheSize
	}
	c, err := lru.New[[32]byte, bool](size)
	if err != nil {
		return nil, err
	}
	return &proofCache{cache: c}, nil
}

func proofCacheKey(p TxProof) [32]byte {
	return cryptoprovider.Hash(
		p.AmountProofHash[:],
		p.BalanceProofHash[:],
		p.NullifierProofHash[:],
		p.AmountProofBody,
		p.BalanceProofBody,
		p.NullifierProofBody,
		p.NullifierPublicInputs,
	)
}

// WithProofCache enables single-proof result memoization on the Verifier.
func WithProofCache(size int) Option {
	return func(v *Verifier) {
		c, err := newProofCache(size)
		if err != nil {
			return
		}
		v.cache = c
	}
}

// VerifySingle verifies one proof outside of batch context, consulting and
// populating the proof cache when enabled.
func (v *Verifier) VerifySingle(p TxProof) bool {
	if v.cache == nil {
		return v.inner.Verify(p)
	}
	key := proofCacheKey(p)
	if result, ok := v.cache.cache.Get(key); ok {
		v.cache.hits++
		return result
	}
	v.cache.miss++
	result := v.inner.Verify(p)
	v.cache.cache.Add(key, result)
	return result
}

// CacheStats reports hit/miss counters for the single-proof cache. Both
// values are zero when the cache is disabled.
func (v *Verifier) CacheStats() (hits, misses uint64) {
	if v.cache == nil {
		return 0, 0
	}
	return v.cache.hits, v.cache.miss
}
