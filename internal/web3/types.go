package web3

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// Address is an externally owned account identifier as reported by the
// wallet provider. The empty address means "no account".
type Address string

// Valid reports whether the address is 0x followed by at least one hex digit.
// The provider is authoritative about the exact account format.
func (a Address) Valid() bool {
	s := string(a)
	if len(s) < 3 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsAccount reports whether the address is a full 0x-prefixed 20 byte hex
// address. Recipients must pass it so both submission phases name the same
// account.
func (a Address) IsAccount() bool {
	return a.Valid() && common.IsHexAddress(string(a))
}

// Empty reports whether no account is set.
func (a Address) Empty() bool { return a == "" }

// Common converts the address into its 20 byte form.
func (a Address) Common() common.Address { return common.HexToAddress(string(a)) }

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

// NormalizeChainID lower-cases a hex chain id so comparisons are stable.
func NormalizeChainID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ChainIDFromBig renders a numeric chain id in the provider's hex form.
func ChainIDFromBig(id *big.Int) string {
	if id == nil {
		return "0x0"
	}
	return "0x" + id.Text(16)
}

// AccountsListener receives the ordered account list of accountsChanged.
type AccountsListener func(accounts []Address)

// ChainListener receives the new chain id of chainChanged.
type ChainListener func(chainID string)

// Unsubscribe removes a listener. Calling it more than once is a no-op.
type Unsubscribe func()

// Provider abstracts an EIP-1193 style wallet provider: JSON-RPC style
// requests plus the two event streams the bridge reacts to.
type Provider interface {
	Request(ctx context.Context, method string, params []any, result any) error
	SubscribeAccounts(listener AccountsListener) Unsubscribe
	SubscribeChain(listener ChainListener) Unsubscribe
}

// LedgerEntry mirrors one TransferStruct tuple returned by getAllTransactions.
type LedgerEntry struct {
	Sender    common.Address
	Receiver  common.Address
	Amount    *big.Int
	Message   string
	Timestamp *big.Int
	Keyword   string
}

// PendingTransaction is a submitted contract call awaiting confirmation.
type PendingTransaction interface {
	Hash() common.Hash
	Wait(ctx context.Context) (*coretypes.Receipt, error)
}

// Contract is the external ABI surface of the deployed Transactions contract.
type Contract interface {
	GetAllTransactions(ctx context.Context) ([]LedgerEntry, error)
	GetTransactionCount(ctx context.Context) (*big.Int, error)
	AddToBlockchain(ctx context.Context, from, receiver Address, amount *big.Int, message, keyword string) (PendingTransaction, error)
}

// ContractBinder builds the contract binding valid for a given chain.
type ContractBinder func(ctx context.Context, chainID string) (Contract, error)
