package committer

import (
	"context"
	"time"
)

// QueueConsumer delivers raw proof payloads from the per-chain topic.
// Delivery is at-least-once; duplicates are handled by the dedup checker.
type QueueConsumer interface {
	// Fetch blocks until the next message is available or ctx is done.
	Fetch(ctx context.Context) ([]byte, error)
	// Ping reports broker reachability for health probes.
	Ping(ctx context.Context) error
	Close() error
}

// CacheClient is the fast existence-check layer in front of the ledger.
// A hit is trusted as "already committed"; a miss proves nothing.
type CacheClient interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// LedgerClient writes proofs to one chain's proof-store contract and answers
// authoritative existence checks. Each client is bound to a single chain.
// Transactions either confirm or fail with an observable error; the
// contract's own uniqueness constraint is the final backstop against
// double-storage.
type LedgerClient interface {
	// ProofExists is the authoritative read-path existence check.
	ProofExists(ctx context.Context, blockNumber uint64) (bool, error)
	// SubmitProof commits a single record (single-item path).
	SubmitProof(ctx context.Context, record ProofRecord) (*SubmissionReceipt, error)
	// SubmitProofBatch commits several records in one transaction
	// (multi-item path, lower marginal cost per record).
	SubmitProofBatch(ctx context.Context, records []ProofRecord) (*SubmissionReceipt, error)
	// Ping reports RPC reachability via a lightweight read call.
	Ping(ctx context.Context) error
	Close() error
}

// Monitoring provides all core monitoring functionality for the committer.
// Also can be implemented as a no-op.
type Monitoring interface {
	// Metrics returns the metrics labeler for the committer.
	Metrics() MetricLabeler
}

// MetricLabeler provides all metric recording functionality for the pipeline.
type MetricLabeler interface {
	// With returns a new metrics labeler with the given key-value pairs.
	With(keyValues ...string) MetricLabeler
	// IncrementProofsProcessed counts records accepted into the accumulator.
	IncrementProofsProcessed(ctx context.Context)
	// IncrementDuplicatesSkipped counts records dropped by the dedup check.
	IncrementDuplicatesSkipped(ctx context.Context)
	// IncrementMalformedMessages counts unparsable or invalid payloads.
	IncrementMalformedMessages(ctx context.Context)
	// IncrementSubmissionsSucceeded counts confirmed batch submissions.
	IncrementSubmissionsSucceeded(ctx context.Context)
	// IncrementSubmissionsFailed counts failed batch submissions.
	IncrementSubmissionsFailed(ctx context.Context)
	// RecordBatchSize records the size of a submitted batch.
	RecordBatchSize(ctx context.Context, size int)
	// RecordSubmissionLatency records the duration of a full Submit call.
	RecordSubmissionLatency(ctx context.Context, duration time.Duration)
	// RecordGasUsed records the resource consumption of a confirmed write.
	RecordGasUsed(ctx context.Context, gasUsed uint64)
	// RecordPendingCount records the accumulator working-set size.
	RecordPendingCount(ctx context.Context, count int)
}
