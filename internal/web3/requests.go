package web3

import (
	"context"
	"errors"
	"fmt"

	xerrors "WalletBridge/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Provider RPC methods used by the bridge.
const (
	MethodChainID         = "eth_chainId"
	MethodSwitchChain     = "wallet_switchEthereumChain"
	MethodAccounts        = "eth_accounts"
	MethodRequestAccounts = "eth_requestAccounts"
	MethodSendTransaction = "eth_sendTransaction"
	MethodCall            = "eth_call"
	MethodGetReceipt      = "eth_getTransactionReceipt"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejectedRequest = 4001
	CodeUnauthorized        = 4100
	CodeUnrecognizedChain   = 4902
)

// NativeTransferGas is the fixed gas limit of a plain value transfer (0x5208).
const NativeTransferGas uint64 = 21000

// TransactionRequest is the eth_sendTransaction parameter object.
type TransactionRequest struct {
	From  Address         `json:"from"`
	To    Address         `json:"to,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

// ChainID reads the active chain id.
func ChainID(ctx context.Context, p Provider) (string, error) {
	if p == nil {
		return "", errProviderUnavailable()
	}
	var id string
	if err := p.Request(ctx, MethodChainID, nil, &id); err != nil {
		return "", classify(err, "读取链 ID 失败")
	}
	return NormalizeChainID(id), nil
}

// SwitchChain asks the wallet to switch to chainID.
func SwitchChain(ctx context.Context, p Provider, chainID string) error {
	if p == nil {
		return errProviderUnavailable()
	}
	params := []any{switchChainParams{ChainID: NormalizeChainID(chainID)}}
	if err := p.Request(ctx, MethodSwitchChain, params, nil); err != nil {
		return classify(err, "切换网络失败")
	}
	return nil
}

// Accounts returns already authorized accounts without prompting.
func Accounts(ctx context.Context, p Provider) ([]Address, error) {
	if p == nil {
		return nil, errProviderUnavailable()
	}
	var accounts []Address
	if err := p.Request(ctx, MethodAccounts, nil, &accounts); err != nil {
		return nil, classify(err, "读取已授权账户失败")
	}
	return accounts, nil
}

// RequestAccounts prompts the user for account authorization.
func RequestAccounts(ctx context.Context, p Provider) ([]Address, error) {
	if p == nil {
		return nil, errProviderUnavailable()
	}
	var accounts []Address
	if err := p.Request(ctx, MethodRequestAccounts, nil, &accounts); err != nil {
		return nil, classify(err, "请求账户授权失败")
	}
	return accounts, nil
}

// SendTransaction hands a transaction to the wallet and returns its hash
// once the wallet has accepted it. It does not wait for mining.
func SendTransaction(ctx context.Context, p Provider, tx TransactionRequest) (common.Hash, error) {
	if p == nil {
		return common.Hash{}, errProviderUnavailable()
	}
	var hash common.Hash
	if err := p.Request(ctx, MethodSendTransaction, []any{tx}, &hash); err != nil {
		return common.Hash{}, classify(err, "发送交易失败")
	}
	return hash, nil
}

// ProviderErrorCode extracts the JSON-RPC error code from err, if any.
func ProviderErrorCode(err error) (int, bool) {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

func classify(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if code, ok := ProviderErrorCode(err); ok && code == CodeUserRejectedRequest {
		return xerrors.Wrap(xerrors.CodeUserRejected, err, message)
	}
	return fmt.Errorf("%s: %w", message, err)
}

func errProviderUnavailable() error {
	return xerrors.New(xerrors.CodeProviderUnavailable, "")
}
