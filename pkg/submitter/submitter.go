// Package submitter turns accumulated batches into proof-store commits,
// choosing between the single-item and batched paths and requeueing whole
// batches on failure.
package submitter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	committer "github.com/blockproofs/committer"
	"github.com/blockproofs/committer/pkg/batch"
)

// CommitMarker records confirmed commits in the dedup cache.
type CommitMarker interface {
	MarkCommitted(ctx context.Context, record committer.ProofRecord) error
}

// RequeueFn reinserts a failed batch at the front of the pending sequence.
type RequeueFn func(records []committer.ProofRecord)

// Submitter commits batches for one chain. A batch of one record uses the
// single-item path; anything larger uses the batched path for lower marginal
// cost. A failed batch is requeued whole after a fixed backoff; retries are
// unbounded in-process but cancel cleanly on shutdown.
type Submitter struct {
	lggr    logger.Logger
	chainID uint64
	ledger  committer.LedgerClient
	marker  CommitMarker
	requeue RequeueFn
	backoff time.Duration
	metrics committer.MetricLabeler

	wg sync.WaitGroup
}

// NewSubmitter validates its collaborators and returns a submitter.
func NewSubmitter(
	lggr logger.Logger,
	chainID uint64,
	ledger committer.LedgerClient,
	marker CommitMarker,
	requeue RequeueFn,
	backoff time.Duration,
	metrics committer.MetricLabeler,
) (*Submitter, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger client is not set")
	}
	if marker == nil {
		return nil, fmt.Errorf("commit marker is not set")
	}
	if requeue == nil {
		return nil, fmt.Errorf("requeue callback is not set")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics labeler is not set")
	}
	if backoff <= 0 {
		return nil, fmt.Errorf("backoff must be positive, got %s", backoff)
	}
	return &Submitter{
		lggr:    lggr,
		chainID: chainID,
		ledger:  ledger,
		marker:  marker,
		requeue: requeue,
		backoff: backoff,
		metrics: metrics,
	}, nil
}

// Submit commits one batch. On success every record is marked committed in
// the dedup cache and dropped from memory; on failure the whole batch is
// handed back to the accumulator after the backoff delay, preserving order.
func (s *Submitter) Submit(ctx context.Context, records []committer.ProofRecord, trigger batch.Trigger) error {
	if len(records) == 0 {
		return nil
	}

	batchID := uuid.NewString()
	start := time.Now()
	s.metrics.RecordBatchSize(ctx, len(records))

	var (
		receipt *committer.SubmissionReceipt
		err     error
	)
	if len(records) == 1 {
		receipt, err = s.ledger.SubmitProof(ctx, records[0])
	} else {
		receipt, err = s.ledger.SubmitProofBatch(ctx, records)
	}
	s.metrics.RecordSubmissionLatency(ctx, time.Since(start))

	if err != nil {
		s.metrics.IncrementSubmissionsFailed(ctx)
		s.lggr.Errorw("batch submission failed, scheduling retry",
			"batchID", batchID,
			"chainID", s.chainID,
			"batchSize", len(records),
			"trigger", trigger,
			"backoff", s.backoff,
			"error", err,
		)
		s.scheduleRequeue(ctx, batchID, records)
		return err
	}

	s.metrics.IncrementSubmissionsSucceeded(ctx)
	s.metrics.RecordGasUsed(ctx, receipt.GasUsed)
	s.lggr.Infow("batch submitted",
		"batchID", batchID,
		"chainID", s.chainID,
		"batchSize", len(records),
		"trigger", trigger,
		"txHash", receipt.TxHash.Hex(),
		"gasUsed", receipt.GasUsed,
	)

	for _, record := range records {
		if err := s.marker.MarkCommitted(ctx, record); err != nil {
			// The ledger write already confirmed; a stale cache only costs a
			// redundant existence check later.
			s.lggr.Warnw("failed to mark record committed",
				"chainID", s.chainID, "blockNumber", record.BlockNumber, "error", err)
		}
	}
	return nil
}

// scheduleRequeue hands the failed batch back after the backoff delay. The
// wait is cancellable: a shutdown abandons the retry instead of leaking a
// scheduled action past teardown.
func (s *Submitter) scheduleRequeue(ctx context.Context, batchID string, records []committer.ProofRecord) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.backoff)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.lggr.Warnw("shutdown during retry backoff, abandoning batch",
				"batchID", batchID, "chainID", s.chainID, "batchSize", len(records))
		case <-timer.C:
			s.requeue(records)
		}
	}()
}

// Wait blocks until all scheduled requeues have resolved. Called during
// pipeline shutdown after the context is cancelled.
func (s *Submitter) Wait() {
	s.wg.Wait()
}
