package web3

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	xerrors "WalletBridge/internal/errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string  { return e.msg }
func (e rpcError) ErrorCode() int { return e.code }

type scriptedProvider struct {
	calls   []string
	params  [][]any
	results map[string]string
	errs    map[string]error
}

func (p *scriptedProvider) Request(_ context.Context, method string, params []any, result any) error {
	p.calls = append(p.calls, method)
	p.params = append(p.params, params)
	if err := p.errs[method]; err != nil {
		return err
	}
	raw, ok := p.results[method]
	if !ok || result == nil {
		return nil
	}
	return json.Unmarshal([]byte(raw), result)
}

func (p *scriptedProvider) SubscribeAccounts(AccountsListener) Unsubscribe { return func() {} }
func (p *scriptedProvider) SubscribeChain(ChainListener) Unsubscribe       { return func() {} }

func TestAddressValid(t *testing.T) {
	cases := map[Address]bool{
		"":      false,
		"0x":    false,
		"0xABC": true,
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed": true,
		"0xZZ":    false,
		"abc":     false,
		"0X12ab":  true,
		"0x12 ab": false,
	}
	for addr, want := range cases {
		if got := addr.Valid(); got != want {
			t.Fatalf("Valid(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestAddressIsAccount(t *testing.T) {
	cases := map[Address]bool{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed": true,
		"0x1":   false,
		"0xDEF": false,
		"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed": false,
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAedAA": false,
	}
	for addr, want := range cases {
		if got := addr.IsAccount(); got != want {
			t.Fatalf("IsAccount(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestRequestHelpers(t *testing.T) {
	p := &scriptedProvider{results: map[string]string{
		MethodChainID:         `"0xAA36A7"`,
		MethodAccounts:        `["0x1111111111111111111111111111111111111111"]`,
		MethodSendTransaction: `"0x0000000000000000000000000000000000000000000000000000000000000abc"`,
	}}
	ctx := context.Background()

	id, err := ChainID(ctx, p)
	if err != nil || id != "0xaa36a7" {
		t.Fatalf("chain id = %q, %v", id, err)
	}
	accounts, err := Accounts(ctx, p)
	if err != nil || len(accounts) != 1 {
		t.Fatalf("accounts = %v, %v", accounts, err)
	}

	gas := hexutil.Uint64(NativeTransferGas)
	hash, err := SendTransaction(ctx, p, TransactionRequest{From: accounts[0], To: "0xDEF", Gas: &gas})
	if err != nil {
		t.Fatalf("send transaction: %v", err)
	}
	if hash.Big().Int64() != 0xabc {
		t.Fatalf("unexpected hash %s", hash)
	}
	encoded, err := json.Marshal(p.params[len(p.params)-1][0])
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	if string(encoded) != `{"from":"0x1111111111111111111111111111111111111111","to":"0xDEF","gas":"0x5208"}` {
		t.Fatalf("unexpected request payload %s", encoded)
	}
}

func TestRequestErrorsAreClassified(t *testing.T) {
	ctx := context.Background()
	if _, err := RequestAccounts(ctx, nil); !xerrors.IsCode(err, xerrors.CodeProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}

	p := &scriptedProvider{errs: map[string]error{
		MethodRequestAccounts: rpcError{code: CodeUserRejectedRequest, msg: "User rejected the request."},
		MethodSwitchChain:     rpcError{code: CodeUnrecognizedChain, msg: "Unrecognized chain ID"},
	}}
	_, err := RequestAccounts(ctx, p)
	if !xerrors.IsCode(err, xerrors.CodeUserRejected) {
		t.Fatalf("expected user rejected, got %v", err)
	}

	err = SwitchChain(ctx, p, "0xAA36A7")
	if err == nil || xerrors.IsCode(err, xerrors.CodeUserRejected) {
		t.Fatalf("unexpected switch error %v", err)
	}
	if code, ok := ProviderErrorCode(err); !ok || code != CodeUnrecognizedChain {
		t.Fatalf("expected provider code to survive wrapping, got %d", code)
	}
	params, _ := json.Marshal(p.params[len(p.params)-1])
	if string(params) != `[{"chainId":"0xaa36a7"}]` {
		t.Fatalf("unexpected switch params %s", params)
	}
	if !errors.As(err, new(rpcError)) {
		t.Fatal("expected original error to be preserved")
	}
}

func TestParseChainDefinitions(t *testing.T) {
	defs, err := ParseChainDefinitions([]byte(`
chains:
  sepolia:
    chain_id: "0xAA36A7"
    contract_address: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
    description: Sepolia testnet
  local:
    chain_id: "0x539"
    contract_address: "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	name, def, ok := defs.ByChainID("0xaa36a7")
	if !ok || name != "sepolia" {
		t.Fatalf("lookup failed: %s %v", name, ok)
	}
	if def.ContractAddress != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Fatalf("unexpected contract %s", def.ContractAddress)
	}
	if _, _, ok := defs.ByChainID("0x1"); ok {
		t.Fatal("unexpected match for unknown chain")
	}

	if _, err := ParseChainDefinitions([]byte("chains:\n  broken:\n    rpc_url: x\n")); err == nil {
		t.Fatal("expected missing chain_id to fail")
	}
}
