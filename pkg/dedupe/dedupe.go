// Package dedupe decides whether a proof record was already committed, using
// the cache as a fast hint and the ledger as the source of truth.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	committer "github.com/blockproofs/committer"
)

// Checker answers "has this block already been finalized?". A cache hit is
// trusted; a cache miss falls back to the authoritative ledger check and
// backfills the cache on confirmation. Any failure on the fallback path is
// treated as "unknown, proceed": resubmission is safe at the ledger level,
// silently dropping a proof is not.
type Checker struct {
	lggr   logger.Logger
	cache  committer.CacheClient
	ledger committer.LedgerClient
	ttl    time.Duration
}

// NewChecker creates a dedup checker. ttl bounds cache entry lifetime; the
// ledger stays authoritative, so expiry only caps cache growth.
func NewChecker(lggr logger.Logger, cache committer.CacheClient, ledger committer.LedgerClient, ttl time.Duration) *Checker {
	return &Checker{
		lggr:   lggr,
		cache:  cache,
		ledger: ledger,
		ttl:    ttl,
	}
}

// IsCommitted reports whether the record's (chainID, blockNumber) key was
// already committed. It never returns an error: on dependency failure it
// conservatively reports false and lets the record proceed to submission.
func (c *Checker) IsCommitted(ctx context.Context, record committer.ProofRecord) bool {
	key := Key(record.ChainID, record.BlockNumber)

	found, err := c.cache.Exists(ctx, key)
	if err != nil {
		c.lggr.Warnw("cache existence check failed, falling back to ledger", "key", key, "error", err)
	} else if found {
		return true
	}

	exists, err := c.ledger.ProofExists(ctx, record.BlockNumber)
	if err != nil {
		c.lggr.Warnw("ledger existence check failed, assuming not committed", "key", key, "error", err)
		return false
	}
	if !exists {
		return false
	}

	// Backfill so the next check for this key stays off the ledger.
	if err := c.cache.SetWithExpiry(ctx, key, "1", c.ttl); err != nil {
		c.lggr.Warnw("failed to backfill cache", "key", key, "error", err)
	}
	return true
}

// MarkCommitted records a successful commit in the cache.
func (c *Checker) MarkCommitted(ctx context.Context, record committer.ProofRecord) error {
	key := Key(record.ChainID, record.BlockNumber)
	if err := c.cache.SetWithExpiry(ctx, key, "1", c.ttl); err != nil {
		return fmt.Errorf("failed to mark %s committed: %w", key, err)
	}
	return nil
}

// Key builds the cache key for a (chainID, blockNumber) pair. The chain ID is
// part of every key, so pipelines for different chains never collide.
func Key(chainID, blockNumber uint64) string {
	return fmt.Sprintf("%d:%d", chainID, blockNumber)
}
