package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"WalletBridge/internal/web3"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// TransactionsABI is the ABI of the deployed Transactions ledger contract.
const TransactionsABI = `[
  {"type":"function","name":"addToBlockchain","stateMutability":"nonpayable",
   "inputs":[
     {"name":"receiver","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"message","type":"string"},
     {"name":"keyword","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"getAllTransactions","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"tuple[]","internalType":"struct Transactions.TransferStruct[]",
     "components":[
       {"name":"sender","type":"address"},
       {"name":"receiver","type":"address"},
       {"name":"amount","type":"uint256"},
       {"name":"message","type":"string"},
       {"name":"timestamp","type":"uint256"},
       {"name":"keyword","type":"string"}]}]},
  {"type":"function","name":"getTransactionCount","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"Transfer","anonymous":false,
   "inputs":[
     {"name":"from","type":"address","indexed":false},
     {"name":"receiver","type":"address","indexed":false},
     {"name":"amount","type":"uint256","indexed":false},
     {"name":"message","type":"string","indexed":false},
     {"name":"timestamp","type":"uint256","indexed":false},
     {"name":"keyword","type":"string","indexed":false}]}
]`

var transactionsABI = mustParseABI(TransactionsABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse Transactions ABI: %v", err))
	}
	return parsed
}

// ErrReceiptFailed reports a mined transaction whose receipt status is 0.
var ErrReceiptFailed = errors.New("transaction reverted")

// ContractCaller executes read-only calls. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg goethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ReceiptReader looks up transaction receipts. *ethclient.Client satisfies it.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error)
}

// Contract binds the Transactions ledger at a fixed address. Reads go through
// caller, writes are handed to the wallet provider for signing.
type Contract struct {
	address      common.Address
	provider     web3.Provider
	caller       ContractCaller
	receipts     ReceiptReader
	pollInterval time.Duration
}

// NewContract binds the ledger at address.
func NewContract(address common.Address, provider web3.Provider, caller ContractCaller, receipts ReceiptReader, pollInterval time.Duration) *Contract {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Contract{
		address:      address,
		provider:     provider,
		caller:       caller,
		receipts:     receipts,
		pollInterval: pollInterval,
	}
}

// Address returns the bound contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// GetAllTransactions returns every ledger record in contract order.
func (c *Contract) GetAllTransactions(ctx context.Context) ([]web3.LedgerEntry, error) {
	out, err := c.call(ctx, "getAllTransactions")
	if err != nil {
		return nil, err
	}
	entries := *abi.ConvertType(out[0], new([]web3.LedgerEntry)).(*[]web3.LedgerEntry)
	return entries, nil
}

// GetTransactionCount returns the ledger's own record counter.
func (c *Contract) GetTransactionCount(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "getTransactionCount")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// AddToBlockchain submits a ledger record signed by from.
func (c *Contract) AddToBlockchain(ctx context.Context, from, receiver web3.Address, amount *big.Int, message, keyword string) (web3.PendingTransaction, error) {
	if amount == nil {
		amount = new(big.Int)
	}
	data, err := transactionsABI.Pack("addToBlockchain", receiver.Common(), amount, message, keyword)
	if err != nil {
		return nil, fmt.Errorf("encode addToBlockchain: %w", err)
	}
	hash, err := web3.SendTransaction(ctx, c.provider, web3.TransactionRequest{
		From: from,
		To:   web3.Address(c.address.Hex()),
		Data: data,
	})
	if err != nil {
		return nil, err
	}
	return &pendingTx{hash: hash, receipts: c.receipts, interval: c.pollInterval}, nil
}

func (c *Contract) call(ctx context.Context, method string) ([]any, error) {
	if c.caller == nil {
		return nil, fmt.Errorf("contract caller not configured")
	}
	input, err := transactionsABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	to := c.address
	raw, err := c.caller.CallContract(ctx, goethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := transactionsABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("decode %s: empty result", method)
	}
	return out, nil
}

type pendingTx struct {
	hash     common.Hash
	receipts ReceiptReader
	interval time.Duration
}

func (p *pendingTx) Hash() common.Hash { return p.hash }

// Wait polls for the receipt until it is mined or ctx ends.
func (p *pendingTx) Wait(ctx context.Context) (*coretypes.Receipt, error) {
	if p.receipts == nil {
		return nil, fmt.Errorf("receipt reader not configured")
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		receipt, err := p.receipts.TransactionReceipt(ctx, p.hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != coretypes.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrReceiptFailed, p.hash.Hex())
			}
			return receipt, nil
		case err != nil && !errors.Is(err, goethereum.NotFound):
			return nil, fmt.Errorf("fetch receipt %s: %w", p.hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ web3.Contract = (*Contract)(nil)
