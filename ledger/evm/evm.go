// Package evm implements the ledger interface against the on-chain
// batch program over Ethereum JSON-RPC.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/volarelabs/flightcast/forecast/commitment"
	"github.com/volarelabs/flightcast/ledger"
	"github.com/volarelabs/flightcast/log"
)

const moduleName = "ledger_evm"

// contractABI is the surface of the batch program consumed by this
// client. Timestamps are unix seconds; hashes and salts are bytes32.
const contractABI = `[
	{"name":"getBatch","type":"function","stateMutability":"view","inputs":[{"name":"batchHash","type":"bytes32"}],"outputs":[{"name":"operator","type":"address"},{"name":"funder","type":"address"},{"name":"windowStart","type":"uint64"},{"name":"windowEnd","type":"uint64"},{"name":"revealDeadline","type":"uint64"},{"name":"seedRevealed","type":"bool"},{"name":"funded","type":"bool"},{"name":"finalized","type":"bool"},{"name":"bounty","type":"uint64"},{"name":"joinBond","type":"uint64"}]},
	{"name":"join","type":"function","stateMutability":"payable","inputs":[{"name":"batchHash","type":"bytes32"}],"outputs":[]},
	{"name":"commit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"batchHash","type":"bytes32"},{"name":"commitHash","type":"bytes32"},{"name":"encryptedUriHash","type":"bytes32"}],"outputs":[{"name":"index","type":"uint64"}]},
	{"name":"revealCommits","type":"function","stateMutability":"nonpayable","inputs":[{"name":"batchHash","type":"bytes32"},{"name":"indices","type":"uint64[]"},{"name":"roots","type":"bytes32[]"},{"name":"salts","type":"bytes32[]"},{"name":"publicUriHashes","type":"bytes32[]"}],"outputs":[]},
	{"name":"lockRandomness","type":"function","stateMutability":"nonpayable","inputs":[{"name":"batchHash","type":"bytes32"}],"outputs":[]},
	{"name":"revealSeed","type":"function","stateMutability":"nonpayable","inputs":[{"name":"batchHash","type":"bytes32"},{"name":"seed","type":"bytes32"}],"outputs":[]},
	{"name":"getCommitCount","type":"function","stateMutability":"view","inputs":[{"name":"batchHash","type":"bytes32"},{"name":"provider","type":"address"}],"outputs":[{"name":"count","type":"uint64"}]},
	{"name":"getCommit","type":"function","stateMutability":"view","inputs":[{"name":"batchHash","type":"bytes32"},{"name":"provider","type":"address"},{"name":"index","type":"uint64"}],"outputs":[{"name":"commitHash","type":"bytes32"},{"name":"encryptedUriHash","type":"bytes32"},{"name":"committedAt","type":"uint64"},{"name":"revealed","type":"bool"},{"name":"root","type":"bytes32"},{"name":"salt","type":"bytes32"},{"name":"publicUriHash","type":"bytes32"}]},
	{"name":"getSelectedCommitIndex","type":"function","stateMutability":"view","inputs":[{"name":"batchHash","type":"bytes32"},{"name":"provider","type":"address"}],"outputs":[{"name":"index","type":"uint64"}]},
	{"name":"getProviderSummary","type":"function","stateMutability":"view","inputs":[{"name":"batchHash","type":"bytes32"},{"name":"provider","type":"address"}],"outputs":[{"name":"joined","type":"bool"},{"name":"commitCount","type":"uint64"},{"name":"revealedCount","type":"uint64"}]},
	{"name":"getProviders","type":"function","stateMutability":"view","inputs":[{"name":"batchHash","type":"bytes32"}],"outputs":[{"name":"providers","type":"address[]"}]},
	{"name":"finalize","type":"function","stateMutability":"nonpayable","inputs":[{"name":"batchHash","type":"bytes32"},{"name":"providers","type":"address[]"},{"name":"payouts","type":"uint64[]"},{"name":"selectedIndices","type":"uint64[]"},{"name":"scoresHash","type":"bytes32"}],"outputs":[]}
]`

// ErrSignerMismatch is returned when the provider argument does not
// match the configured transaction signer. On-chain, provider identity
// is the transaction sender; the client refuses to submit on behalf of
// anyone else.
var ErrSignerMismatch = errors.New("ledger: provider does not match transaction signer")

// ErrNoSigner is returned when a write is attempted on a read-only client.
var ErrNoSigner = errors.New("ledger: no signing key configured")

// Client talks to the batch program over JSON-RPC.
type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI

	chainID *big.Int
	key     *ecdsa.PrivateKey
	signer  common.Address

	logger *log.Logger
}

var _ ledger.Client = (*Client)(nil)

// NewClient dials the RPC endpoint and binds the batch program at the
// given address. keyHex may be empty for a read-only client.
func NewClient(ctx context.Context, rpcURL string, contractAddr common.Address, chainID int64, keyHex string, logger *log.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse abi: %w", err)
	}

	c := &Client{
		eth:      eth,
		contract: bind.NewBoundContract(contractAddr, parsed, eth, eth, eth),
		abi:      parsed,
		chainID:  big.NewInt(chainID),
		logger:   logger.WithModule(moduleName),
	}
	if keyHex != "" {
		key, err := ethCrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("ledger: parse signing key: %w", err)
		}
		c.key = key
		c.signer = ethCrypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *Client) transactOpts(ctx context.Context, value uint64) (*bind.TransactOpts, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("ledger: transactor: %w", err)
	}
	opts.Context = ctx
	if value > 0 {
		opts.Value = new(big.Int).SetUint64(value)
	}
	return opts, nil
}

func (c *Client) requireSigner(provider common.Address) error {
	if c.key == nil {
		return ErrNoSigner
	}
	if provider != c.signer {
		return fmt.Errorf("%w: %s != %s", ErrSignerMismatch, provider.Hex(), c.signer.Hex())
	}
	return nil
}

// transact submits a transaction and waits for it to be mined. A
// reverted transaction surfaces as an error with the method name; the
// caller decides whether to re-check state and retry.
func (c *Client) transact(ctx context.Context, opts *bind.TransactOpts, method string, args ...interface{}) error {
	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("ledger: %s: %w", method, err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("ledger: %s: wait mined: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("ledger: %s: transaction %s reverted", method, tx.Hash().Hex())
	}
	c.logger.Debug("transaction mined",
		"method", method,
		"tx", tx.Hash().Hex(),
		"block", receipt.BlockNumber,
	)
	return nil
}

// GetBatch implements ledger.Client.
func (c *Client) GetBatch(ctx context.Context, batchHash common.Hash) (*ledger.Batch, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getBatch", batchHash); err != nil {
		return nil, fmt.Errorf("ledger: getBatch: %w", err)
	}
	b := &ledger.Batch{
		Hash:           batchHash,
		Operator:       out[0].(common.Address),
		Funder:         out[1].(common.Address),
		WindowStart:    time.Unix(int64(out[2].(uint64)), 0).UTC(),
		WindowEnd:      time.Unix(int64(out[3].(uint64)), 0).UTC(),
		RevealDeadline: time.Unix(int64(out[4].(uint64)), 0).UTC(),
		SeedRevealed:   out[5].(bool),
		Funded:         out[6].(bool),
		Finalized:      out[7].(bool),
		Bounty:         out[8].(uint64),
		JoinBond:       out[9].(uint64),
	}
	if b.Operator == (common.Address{}) {
		return nil, ledger.ErrNotFound
	}
	return b, nil
}

// Join implements ledger.Client. The join bond is attached as the
// transaction value.
func (c *Client) Join(ctx context.Context, batchHash common.Hash, provider common.Address) error {
	if err := c.requireSigner(provider); err != nil {
		return err
	}
	batch, err := c.GetBatch(ctx, batchHash)
	if err != nil {
		return err
	}
	opts, err := c.transactOpts(ctx, batch.JoinBond)
	if err != nil {
		return err
	}
	return c.transact(ctx, opts, "join", batchHash)
}

// Commit implements ledger.Client.
func (c *Client) Commit(ctx context.Context, batchHash common.Hash, provider common.Address, commitHash, encryptedURIHash common.Hash) (uint64, error) {
	if err := c.requireSigner(provider); err != nil {
		return 0, err
	}
	opts, err := c.transactOpts(ctx, 0)
	if err != nil {
		return 0, err
	}
	if err := c.transact(ctx, opts, "commit", batchHash, commitHash, encryptedURIHash); err != nil {
		return 0, err
	}
	// The assigned index is the count after inclusion, minus one.
	count, err := c.GetCommitCount(ctx, batchHash, provider)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, fmt.Errorf("ledger: commit mined but commit count is zero")
	}
	return count - 1, nil
}

// RevealCommits implements ledger.Client.
func (c *Client) RevealCommits(ctx context.Context, batchHash common.Hash, provider common.Address, reveals []ledger.Reveal) error {
	if err := c.requireSigner(provider); err != nil {
		return err
	}
	indices := make([]uint64, len(reveals))
	roots := make([][32]byte, len(reveals))
	salts := make([][32]byte, len(reveals))
	publicHashes := make([][32]byte, len(reveals))
	for i, r := range reveals {
		indices[i] = r.Index
		roots[i] = r.Root
		salts[i] = r.Salt
		publicHashes[i] = r.PublicURIHash
	}
	opts, err := c.transactOpts(ctx, 0)
	if err != nil {
		return err
	}
	return c.transact(ctx, opts, "revealCommits", batchHash, indices, roots, salts, publicHashes)
}

// LockRandomness implements ledger.Client.
func (c *Client) LockRandomness(ctx context.Context, batchHash common.Hash) error {
	opts, err := c.transactOpts(ctx, 0)
	if err != nil {
		return err
	}
	return c.transact(ctx, opts, "lockRandomness", batchHash)
}

// RevealSeed implements ledger.Client.
func (c *Client) RevealSeed(ctx context.Context, batchHash common.Hash, seed common.Hash) error {
	opts, err := c.transactOpts(ctx, 0)
	if err != nil {
		return err
	}
	return c.transact(ctx, opts, "revealSeed", batchHash, seed)
}

// GetCommitCount implements ledger.Client.
func (c *Client) GetCommitCount(ctx context.Context, batchHash common.Hash, provider common.Address) (uint64, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCommitCount", batchHash, provider); err != nil {
		return 0, fmt.Errorf("ledger: getCommitCount: %w", err)
	}
	return out[0].(uint64), nil
}

// GetCommit implements ledger.Client.
func (c *Client) GetCommit(ctx context.Context, batchHash common.Hash, provider common.Address, index uint64) (*ledger.Commitment, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCommit", batchHash, provider, index); err != nil {
		return nil, fmt.Errorf("ledger: getCommit: %w", err)
	}
	commitHash := common.Hash(out[0].([32]byte))
	if commitHash == (common.Hash{}) {
		return nil, ledger.ErrNotFound
	}
	return &ledger.Commitment{
		Index:            index,
		CommitHash:       commitHash,
		EncryptedURIHash: common.Hash(out[1].([32]byte)),
		CommittedAt:      time.Unix(int64(out[2].(uint64)), 0).UTC(),
		Revealed:         out[3].(bool),
		Root:             common.Hash(out[4].([32]byte)),
		Salt:             commitment.Salt(out[5].([32]byte)),
		PublicURIHash:    common.Hash(out[6].([32]byte)),
	}, nil
}

// GetSelectedCommitIndex implements ledger.Client.
func (c *Client) GetSelectedCommitIndex(ctx context.Context, batchHash common.Hash, provider common.Address) (uint64, error) {
	batch, err := c.GetBatch(ctx, batchHash)
	if err != nil {
		return 0, err
	}
	if !batch.SeedRevealed {
		return 0, ledger.ErrSeedNotRevealed
	}
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getSelectedCommitIndex", batchHash, provider); err != nil {
		return 0, fmt.Errorf("ledger: getSelectedCommitIndex: %w", err)
	}
	return out[0].(uint64), nil
}

// GetProviderSummary implements ledger.Client.
func (c *Client) GetProviderSummary(ctx context.Context, batchHash common.Hash, provider common.Address) (*ledger.ProviderSummary, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getProviderSummary", batchHash, provider); err != nil {
		return nil, fmt.Errorf("ledger: getProviderSummary: %w", err)
	}
	return &ledger.ProviderSummary{
		Provider:      provider,
		Joined:        out[0].(bool),
		CommitCount:   out[1].(uint64),
		RevealedCount: out[2].(uint64),
	}, nil
}

// ListProviders implements ledger.Client.
func (c *Client) ListProviders(ctx context.Context, batchHash common.Hash) ([]common.Address, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getProviders", batchHash); err != nil {
		return nil, fmt.Errorf("ledger: getProviders: %w", err)
	}
	return out[0].([]common.Address), nil
}

// Finalize implements ledger.Client.
func (c *Client) Finalize(ctx context.Context, batchHash common.Hash, providers []common.Address, payouts []uint64, selectedIndices []uint64, scoresHash common.Hash) error {
	opts, err := c.transactOpts(ctx, 0)
	if err != nil {
		return err
	}
	return c.transact(ctx, opts, "finalize", batchHash, providers, payouts, selectedIndices, scoresHash)
}

// Signer returns the configured transaction signer address, or the zero
// address for a read-only client.
func (c *Client) Signer() common.Address {
	return c.signer
}
