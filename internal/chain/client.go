// Package chain talks to the dispute and subjective-factory contracts over
// JSON-RPC with raw go-ethereum ABI encoding. Writes are signed locally and
// block until the receipt is mined.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/oraclebot/internal/crypto"
)

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

// ErrReadOnly is returned by Transact on a client without a signer.
var ErrReadOnly = errors.New("chain client has no signer")

// Backend is the subset of *ethclient.Client the contracts use.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Options tunes transaction submission and log scanning.
type Options struct {
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	FallbackGas    uint64
	MaxBlockRange  uint64
}

func (o Options) withDefaults() Options {
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.FallbackGas == 0 {
		o.FallbackGas = 500_000
	}
	if o.MaxBlockRange == 0 {
		o.MaxBlockRange = 5000
	}
	return o
}

// Client signs and sends transactions and scans logs for one chain.
type Client struct {
	backend Backend
	signer  *crypto.Signer
	opts    Options
	logger  *slog.Logger

	// txMu serialises nonce assignment across the contracts sharing a signer.
	txMu sync.Mutex
}

// Dial connects to an Ethereum-compatible JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return ec, nil
}

// NewClient creates a Client. signer may be nil for read-only use.
func NewClient(backend Backend, signer *crypto.Signer, opts Options, logger *slog.Logger) *Client {
	return &Client{
		backend: backend,
		signer:  signer,
		opts:    opts.withDefaults(),
		logger:  logger.With(slog.String("component", "chain")),
	}
}

// From returns the signer address, or the zero address for a read-only client.
func (c *Client) From() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// LatestBlock returns the current chain height.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// Ping checks that the RPC endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.LatestBlock(ctx)
	return err
}

// Call executes a read-only contract call at the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.From(), To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// Transact signs and sends a transaction to `to`, then waits for it to be
// mined. A revert reported during gas estimation is returned as is so callers
// can match on the reason.
func (c *Client) Transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	if c.signer == nil {
		return nil, ErrReadOnly
	}
	if value == nil {
		value = new(big.Int)
	}

	c.txMu.Lock()
	signed, err := c.send(ctx, to, value, data)
	c.txMu.Unlock()
	if err != nil {
		return nil, err
	}

	receiptCtx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()

	receipt, err := c.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("chain: wait for %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("chain: tx %s: %w", signed.Hash().Hex(), ErrReverted)
	}
	return receipt, nil
}

func (c *Client) send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	from := c.signer.Address()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chain: nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: gas price: %w", err)
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("chain: estimate gas: %w", err)
		}
		c.logger.WarnContext(ctx, "gas estimate failed, using fallback",
			slog.String("error", err.Error()),
			slog.Uint64("gas", c.opts.FallbackGas),
		)
		gas = c.opts.FallbackGas
	}
	// 20% headroom
	gas = gas * 12 / 10

	tx := types.NewTransaction(nonce, to, value, gas, gasPrice, data)
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: send tx: %w", err)
	}

	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("tx", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
	)
	return signed, nil
}

// waitForReceipt polls for a transaction receipt until mined or ctx ends.
func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.DebugContext(ctx, "receipt poll failed",
				slog.String("tx", txHash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FilterLogs runs q over [from, to] in windows of at most MaxBlockRange
// blocks. Logs are returned in block order.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery, from, to uint64) ([]types.Log, error) {
	if from > to {
		return nil, nil
	}
	var out []types.Log
	for start := from; start <= to; {
		end := start + c.opts.MaxBlockRange - 1
		if end > to || end < start {
			end = to
		}
		q.FromBlock = new(big.Int).SetUint64(start)
		q.ToBlock = new(big.Int).SetUint64(end)

		logs, err := c.backend.FilterLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("chain: filter logs %d-%d: %w", start, end, err)
		}
		out = append(out, logs...)

		if end == to {
			break
		}
		start = end + 1
	}
	return out, nil
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}
