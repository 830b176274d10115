// Package fakes provides hand-written in-memory collaborators for tests.
package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	committer "github.com/blockproofs/committer"
)

// Record builds a structurally valid ProofRecord for tests.
func Record(chainID, blockNumber uint64) committer.ProofRecord {
	return committer.ProofRecord{
		ChainID:        chainID,
		BlockNumber:    blockNumber,
		BlockTimestamp: 1700000000 + blockNumber,
		MerkleRoot:     common.HexToHash(fmt.Sprintf("0x%064x", blockNumber+1)),
		BlockHash:      common.HexToHash(fmt.Sprintf("0x%064x", blockNumber+2)),
		StateRoot:      common.HexToHash(fmt.Sprintf("0x%064x", blockNumber+3)),
	}
}

var _ committer.CacheClient = (*Cache)(nil)

// Cache is an in-memory CacheClient. Error fields, when set, are returned by
// the matching method.
type Cache struct {
	mu   sync.Mutex
	data map[string]string

	ExistsErr error
	SetErr    error
	PingErr   error
}

func NewCache() *Cache {
	return &Cache{data: make(map[string]string)}
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if c.ExistsErr != nil {
		return false, c.ExistsErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func (c *Cache) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.SetErr != nil {
		return c.SetErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *Cache) Ping(ctx context.Context) error { return c.PingErr }

func (c *Cache) Close() error { return nil }

// Has reports whether the key was stored, for assertions.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// Submission is one recorded ledger write.
type Submission struct {
	Records []committer.ProofRecord
	Batched bool
}

var _ committer.LedgerClient = (*Ledger)(nil)

// Ledger is an in-memory LedgerClient recording every submission. FailTimes
// makes the next N submissions fail before succeeding.
type Ledger struct {
	mu          sync.Mutex
	submissions []Submission

	Existing  map[uint64]bool
	ExistsErr error
	FailTimes int
	PingErr   error
	GasUsed   uint64
}

func NewLedger() *Ledger {
	return &Ledger{Existing: make(map[uint64]bool), GasUsed: 21000}
}

func (l *Ledger) ProofExists(ctx context.Context, blockNumber uint64) (bool, error) {
	if l.ExistsErr != nil {
		return false, l.ExistsErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Existing[blockNumber], nil
}

func (l *Ledger) SubmitProof(ctx context.Context, record committer.ProofRecord) (*committer.SubmissionReceipt, error) {
	return l.record(Submission{Records: []committer.ProofRecord{record}, Batched: false})
}

func (l *Ledger) SubmitProofBatch(ctx context.Context, records []committer.ProofRecord) (*committer.SubmissionReceipt, error) {
	snapshot := make([]committer.ProofRecord, len(records))
	copy(snapshot, records)
	return l.record(Submission{Records: snapshot, Batched: true})
}

func (l *Ledger) record(s Submission) (*committer.SubmissionReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailTimes > 0 {
		l.FailTimes--
		return nil, fmt.Errorf("ledger busy")
	}
	l.submissions = append(l.submissions, s)
	for _, r := range s.Records {
		l.Existing[r.BlockNumber] = true
	}
	return &committer.SubmissionReceipt{
		TxHash:  common.HexToHash(fmt.Sprintf("0x%064x", len(l.submissions))),
		GasUsed: l.GasUsed,
	}, nil
}

func (l *Ledger) Ping(ctx context.Context) error { return l.PingErr }

func (l *Ledger) Close() error { return nil }

// Submissions returns a copy of all recorded writes.
func (l *Ledger) Submissions() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Submission, len(l.submissions))
	copy(out, l.submissions)
	return out
}

var _ committer.QueueConsumer = (*Queue)(nil)

// Queue is an in-memory QueueConsumer fed by Push.
type Queue struct {
	ch      chan []byte
	PingErr error
}

func NewQueue() *Queue {
	return &Queue{ch: make(chan []byte, 100)}
}

// Push enqueues one raw payload.
func (q *Queue) Push(payload []byte) {
	q.ch <- payload
}

func (q *Queue) Fetch(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-q.ch:
		return payload, nil
	}
}

func (q *Queue) Ping(ctx context.Context) error { return q.PingErr }

func (q *Queue) Close() error { return nil }
