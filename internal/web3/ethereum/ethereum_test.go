package ethereum

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/web3"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/goleak"
)

type rejectedError struct{}

func (rejectedError) Error() string  { return "User rejected the request." }
func (rejectedError) ErrorCode() int { return web3.CodeUserRejectedRequest }

type sendArgs struct {
	From  string          `json:"from"`
	To    string          `json:"to"`
	Gas   *hexutil.Uint64 `json:"gas"`
	Value *hexutil.Big    `json:"value"`
	Data  hexutil.Bytes   `json:"data"`
}

type walletNode struct {
	mu       sync.Mutex
	accounts []string
	chainID  string
	reject   bool
	sent     []sendArgs
}

func (n *walletNode) setAccounts(accounts ...string) {
	n.mu.Lock()
	n.accounts = accounts
	n.mu.Unlock()
}

func (n *walletNode) setChain(id string) {
	n.mu.Lock()
	n.chainID = id
	n.mu.Unlock()
}

type ethService struct{ node *walletNode }

func (s *ethService) ChainId() string {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	return s.node.chainID
}

func (s *ethService) Accounts() []string {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	return append([]string{}, s.node.accounts...)
}

func (s *ethService) RequestAccounts() ([]string, error) {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	if s.node.reject {
		return nil, rejectedError{}
	}
	return append([]string{}, s.node.accounts...), nil
}

func (s *ethService) SendTransaction(args sendArgs) (common.Hash, error) {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	if s.node.reject {
		return common.Hash{}, rejectedError{}
	}
	s.node.sent = append(s.node.sent, args)
	return common.BigToHash(big.NewInt(int64(len(s.node.sent)))), nil
}

type walletService struct{ node *walletNode }

func (s *walletService) SwitchEthereumChain(params struct {
	ChainID string `json:"chainId"`
}) error {
	s.node.setChain(params.ChainID)
	return nil
}

func startNode(t *testing.T, node *walletNode, poll time.Duration) *RPCProvider {
	t.Helper()
	server := gethrpc.NewServer()
	if err := server.RegisterName("eth", &ethService{node: node}); err != nil {
		t.Fatalf("register eth: %v", err)
	}
	if err := server.RegisterName("wallet", &walletService{node: node}); err != nil {
		t.Fatalf("register wallet: %v", err)
	}
	p := NewRPCProviderFromClient("test", gethrpc.DialInProc(server), poll)
	t.Cleanup(func() {
		_ = p.Close()
		server.Stop()
	})
	return p
}

func TestRPCProviderRequests(t *testing.T) {
	node := &walletNode{accounts: []string{"0xABC"}, chainID: "0x1"}
	p := startNode(t, node, time.Hour)
	ctx := context.Background()

	accounts, err := web3.RequestAccounts(ctx, p)
	if err != nil || len(accounts) != 1 || accounts[0] != "0xABC" {
		t.Fatalf("request accounts = %v, %v", accounts, err)
	}
	if err := web3.SwitchChain(ctx, p, "0xAA36A7"); err != nil {
		t.Fatalf("switch chain: %v", err)
	}
	id, err := web3.ChainID(ctx, p)
	if err != nil || id != "0xaa36a7" {
		t.Fatalf("chain id = %q, %v", id, err)
	}

	node.mu.Lock()
	node.reject = true
	node.mu.Unlock()
	if _, err := web3.RequestAccounts(ctx, p); !xerrors.IsCode(err, xerrors.CodeUserRejected) {
		t.Fatalf("expected user rejection over rpc, got %v", err)
	}

	_ = p.Close()
	if err := p.Request(ctx, web3.MethodAccounts, nil, new([]string)); !xerrors.IsCode(err, xerrors.CodeProviderUnavailable) {
		t.Fatalf("expected closed provider to be unavailable, got %v", err)
	}
}

func TestRPCProviderEmitsChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	node := &walletNode{accounts: []string{"0xABC"}, chainID: "0xaa36a7"}
	server := gethrpc.NewServer()
	_ = server.RegisterName("eth", &ethService{node: node})
	p := NewRPCProviderFromClient("test", gethrpc.DialInProc(server), 5*time.Millisecond)
	defer server.Stop()
	defer p.Close()

	accountsCh := make(chan []web3.Address, 4)
	chainCh := make(chan string, 4)
	unsubAccounts := p.SubscribeAccounts(func(accounts []web3.Address) { accountsCh <- accounts })
	unsubChain := p.SubscribeChain(func(id string) { chainCh <- id })

	// let the watcher record its baseline before mutating
	time.Sleep(30 * time.Millisecond)
	select {
	case got := <-accountsCh:
		t.Fatalf("baseline must not be emitted, got %v", got)
	default:
	}

	node.setAccounts("0xDEF")
	select {
	case got := <-accountsCh:
		if len(got) != 1 || got[0] != "0xDEF" {
			t.Fatalf("unexpected accounts %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accountsChanged not emitted")
	}

	node.setChain("0x1")
	select {
	case got := <-chainCh:
		if got != "0x1" {
			t.Fatalf("unexpected chain %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chainChanged not emitted")
	}

	node.setAccounts()
	select {
	case got := <-accountsCh:
		if len(got) != 0 {
			t.Fatalf("expected empty accounts, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("empty accountsChanged not emitted")
	}

	unsubAccounts()
	unsubAccounts()
	unsubChain()
}

type fakeChain struct {
	entries  []web3.LedgerEntry
	count    *big.Int
	callErr  error
	receipts []*coretypes.Receipt
	polls    int
}

func (f *fakeChain) CallContract(_ context.Context, msg goethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	method, err := transactionsABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "getAllTransactions":
		return method.Outputs.Pack(f.entries)
	case "getTransactionCount":
		return method.Outputs.Pack(f.count)
	}
	return nil, errors.New("unexpected method " + method.Name)
}

func (f *fakeChain) TransactionReceipt(_ context.Context, _ common.Hash) (*coretypes.Receipt, error) {
	f.polls++
	if len(f.receipts) == 0 {
		return nil, goethereum.NotFound
	}
	r := f.receipts[0]
	f.receipts = f.receipts[1:]
	if r == nil {
		return nil, goethereum.NotFound
	}
	return r, nil
}

func TestContractReads(t *testing.T) {
	chain := &fakeChain{
		entries: []web3.LedgerEntry{{
			Sender:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Receiver:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Amount:    big.NewInt(5e17),
			Message:   "hi",
			Timestamp: big.NewInt(1700000000),
			Keyword:   "cat",
		}},
		count: big.NewInt(7),
	}
	c := NewContract(common.HexToAddress("0x3333333333333333333333333333333333333333"), nil, chain, chain, time.Millisecond)
	ctx := context.Background()

	entries, err := c.GetAllTransactions(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "hi" || entries[0].Amount.Cmp(big.NewInt(5e17)) != 0 || entries[0].Keyword != "cat" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	count, err := c.GetTransactionCount(ctx)
	if err != nil || count.Int64() != 7 {
		t.Fatalf("count = %v, %v", count, err)
	}

	chain.callErr = errors.New("node down")
	if _, err := c.GetAllTransactions(ctx); err == nil {
		t.Fatal("expected call error")
	}
}

func TestContractAddToBlockchain(t *testing.T) {
	node := &walletNode{accounts: []string{"0xABC"}, chainID: "0xaa36a7"}
	p := startNode(t, node, time.Hour)
	chain := &fakeChain{receipts: []*coretypes.Receipt{nil, {Status: coretypes.ReceiptStatusSuccessful}}}
	contractAddr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	c := NewContract(contractAddr, p, chain, chain, time.Millisecond)
	ctx := context.Background()

	pending, err := c.AddToBlockchain(ctx, "0x1111111111111111111111111111111111111111", "0x2222222222222222222222222222222222222222", big.NewInt(1e18), "hello", "cat")
	if err != nil {
		t.Fatalf("add to blockchain: %v", err)
	}
	if _, err := pending.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if chain.polls != 2 {
		t.Fatalf("expected receipt to be polled twice, got %d", chain.polls)
	}

	node.mu.Lock()
	sent := node.sent[0]
	node.mu.Unlock()
	if common.HexToAddress(sent.To) != contractAddr || sent.Value != nil {
		t.Fatalf("unexpected transaction %+v", sent)
	}
	args, err := transactionsABI.Methods["addToBlockchain"].Inputs.Unpack(sent.Data[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	if args[1].(*big.Int).Cmp(big.NewInt(1e18)) != 0 || args[2].(string) != "hello" || args[3].(string) != "cat" {
		t.Fatalf("unexpected calldata %v", args)
	}

	chain.receipts = []*coretypes.Receipt{{Status: coretypes.ReceiptStatusFailed}}
	pending, err = c.AddToBlockchain(ctx, "0x1111111111111111111111111111111111111111", "0x2222222222222222222222222222222222222222", big.NewInt(1), "", "")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if _, err := pending.Wait(ctx); !errors.Is(err, ErrReceiptFailed) {
		t.Fatalf("expected reverted receipt, got %v", err)
	}

	node.mu.Lock()
	node.reject = true
	node.mu.Unlock()
	if _, err := c.AddToBlockchain(ctx, "0x1", "0x2", big.NewInt(1), "", ""); !xerrors.IsCode(err, xerrors.CodeUserRejected) {
		t.Fatalf("expected user rejection, got %v", err)
	}
}

func TestPendingWaitHonoursContext(t *testing.T) {
	chain := &fakeChain{}
	tx := &pendingTx{receipts: chain, interval: time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := tx.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
