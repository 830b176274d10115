// Package ledger provides the EVM client that commits proofs to the
// proof-store contract and answers authoritative existence checks.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	committer "github.com/blockproofs/committer"
)

// proofStoreABI is the subset of the proof-store contract surface the
// committer needs. The contract reverts on duplicate block numbers, which is
// the final backstop against double-storage.
const proofStoreABI = `[
	{"type":"function","name":"hasProof","stateMutability":"view","inputs":[{"name":"blockNumber","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"storeProof","stateMutability":"nonpayable","inputs":[{"name":"blockNumber","type":"uint256"},{"name":"timestamp","type":"uint256"},{"name":"merkleRoot","type":"bytes32"},{"name":"blockHash","type":"bytes32"},{"name":"stateRoot","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"storeProofBatch","stateMutability":"nonpayable","inputs":[{"name":"blockNumbers","type":"uint256[]"},{"name":"timestamps","type":"uint256[]"},{"name":"merkleRoots","type":"bytes32[]"},{"name":"blockHashes","type":"bytes32[]"},{"name":"stateRoots","type":"bytes32[]"}],"outputs":[]}
]`

var _ committer.LedgerClient = (*EVMClient)(nil)

// EVMClient implements committer.LedgerClient against one chain's
// proof-store contract. A mutex serializes transactions because the nonce is
// fetched per submission.
type EVMClient struct {
	lggr     logger.Logger
	client   *ethclient.Client
	contract *bind.BoundContract
	opts     *bind.TransactOpts
	cfg      committer.LedgerConfig
	mu       sync.Mutex
}

// NewEVMClient dials the chain RPC and binds the proof-store contract.
func NewEVMClient(lggr logger.Logger, chainID uint64, cfg committer.LedgerConfig) (*EVMClient, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", cfg.RPCURL, err)
	}

	pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey(), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(pk, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor for chain %d: %w", chainID, err)
	}
	opts.Value = big.NewInt(0)

	parsed, err := abi.JSON(strings.NewReader(proofStoreABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse proof store ABI: %w", err)
	}

	contract := bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, client, client, client)

	return &EVMClient{
		lggr:     lggr,
		client:   client,
		contract: contract,
		opts:     opts,
		cfg:      cfg,
	}, nil
}

// ProofExists calls hasProof on the contract.
func (c *EVMClient) ProofExists(ctx context.Context, blockNumber uint64) (bool, error) {
	var out []any
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "hasProof", new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return false, fmt.Errorf("failed to call hasProof: %w", err)
	}
	exists, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected hasProof return type %T", out[0])
	}
	return exists, nil
}

// SubmitProof commits a single record via storeProof.
func (c *EVMClient) SubmitProof(ctx context.Context, record committer.ProofRecord) (*committer.SubmissionReceipt, error) {
	return c.transact(ctx, c.cfg.GasLimit, "storeProof",
		new(big.Int).SetUint64(record.BlockNumber),
		new(big.Int).SetUint64(record.BlockTimestamp),
		record.MerkleRoot,
		record.BlockHash,
		record.StateRoot,
	)
}

// SubmitProofBatch commits several records in one storeProofBatch
// transaction. The gas ceiling scales linearly with batch size.
func (c *EVMClient) SubmitProofBatch(ctx context.Context, records []committer.ProofRecord) (*committer.SubmissionReceipt, error) {
	blockNumbers := make([]*big.Int, len(records))
	timestamps := make([]*big.Int, len(records))
	merkleRoots := make([][32]byte, len(records))
	blockHashes := make([][32]byte, len(records))
	stateRoots := make([][32]byte, len(records))
	for i, r := range records {
		blockNumbers[i] = new(big.Int).SetUint64(r.BlockNumber)
		timestamps[i] = new(big.Int).SetUint64(r.BlockTimestamp)
		merkleRoots[i] = r.MerkleRoot
		blockHashes[i] = r.BlockHash
		stateRoots[i] = r.StateRoot
	}

	gasLimit := c.cfg.BatchGasLimitPerProof * uint64(len(records))
	return c.transact(ctx, gasLimit, "storeProofBatch", blockNumbers, timestamps, merkleRoots, blockHashes, stateRoots)
}

func (c *EVMClient) transact(ctx context.Context, gasLimit uint64, method string, args ...any) (*committer.SubmissionReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts, err := c.transactOpts(ctx, gasLimit)
	if err != nil {
		return nil, err
	}

	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s transaction: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s transaction %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status == 0 {
		return nil, fmt.Errorf("%s transaction %s reverted", method, tx.Hash().Hex())
	}

	c.lggr.Infow("submitted tx to chain", "method", method, "txHash", tx.Hash().Hex(), "gasUsed", receipt.GasUsed)

	return &committer.SubmissionReceipt{
		TxHash:  tx.Hash(),
		GasUsed: receipt.GasUsed,
	}, nil
}

func (c *EVMClient) transactOpts(ctx context.Context, gasLimit uint64) (*bind.TransactOpts, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.opts.From)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending nonce: %w", err)
	}

	opts := *c.opts
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.GasLimit = gasLimit

	if c.cfg.GasPriceWei > 0 {
		opts.GasPrice = big.NewInt(c.cfg.GasPriceWei)
	} else {
		gasPrice, err := c.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas price: %w", err)
		}
		opts.GasPrice = gasPrice
	}

	return &opts, nil
}

// Ping checks RPC reachability via a lightweight read call.
func (c *EVMClient) Ping(ctx context.Context) error {
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EVMClient) Close() error {
	c.client.Close()
	return nil
}
