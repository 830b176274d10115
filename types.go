package committer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ProofRecord is one unit of work: a single chain's block summary awaiting
// commitment to the proof-store contract. Records arrive as JSON payloads on
// the per-chain proof topic. (ChainID, BlockNumber) is the natural key; a
// record is a duplicate if that key was already committed.
type ProofRecord struct {
	ChainID        uint64        `json:"chainId"`
	BlockNumber    uint64        `json:"blockNumber"`
	BlockTimestamp uint64        `json:"blockTimestamp"`
	MerkleRoot     common.Hash   `json:"merkleRoot"`
	BlockHash      common.Hash   `json:"blockHash"`
	StateRoot      common.Hash   `json:"stateRoot"`
	TxHashes       []common.Hash `json:"txHashes"`
}

// Validate performs structural validation on a parsed record. TxHashes may be
// empty (an empty block still carries a proof).
func (r *ProofRecord) Validate() error {
	if r.ChainID == 0 {
		return fmt.Errorf("chainId must be positive")
	}
	if r.BlockTimestamp == 0 {
		return fmt.Errorf("blockTimestamp must be positive")
	}
	if r.MerkleRoot == (common.Hash{}) {
		return fmt.Errorf("merkleRoot is required")
	}
	if r.BlockHash == (common.Hash{}) {
		return fmt.Errorf("blockHash is required")
	}
	if r.StateRoot == (common.Hash{}) {
		return fmt.Errorf("stateRoot is required")
	}
	return nil
}

// SubmissionReceipt is the observable outcome of a confirmed ledger write.
type SubmissionReceipt struct {
	TxHash  common.Hash
	GasUsed uint64
}

// PipelineState is the lifecycle state of a single chain pipeline.
type PipelineState string

const (
	StateCreated  PipelineState = "created"
	StateStarting PipelineState = "starting"
	StateRunning  PipelineState = "running"
	StateStopping PipelineState = "stopping"
	StateStopped  PipelineState = "stopped"
)

// HealthSnapshot is a point-in-time view of one pipeline's status. Dependency
// booleans come from independent reachability probes; PendingCount is the
// size of the accumulator's working set at snapshot time.
type HealthSnapshot struct {
	ChainID        uint64        `json:"chainId"`
	State          PipelineState `json:"state"`
	QueueHealthy   bool          `json:"queueHealthy"`
	LedgerHealthy  bool          `json:"ledgerHealthy"`
	CacheHealthy   bool          `json:"cacheHealthy"`
	PendingCount   int           `json:"pendingCount"`
	ProbeError     string        `json:"probeError,omitempty"`
}
