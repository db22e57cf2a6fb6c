package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"

	"WalletBridge/internal/observability/alerting"
	"WalletBridge/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

type providerCall struct {
	method string
	params []any
}

type fakeProvider struct {
	mu              sync.Mutex
	chainID         string
	accounts        []string
	requestAccounts []string
	requestErr      error
	switchErr       error
	sendErr         error
	calls           []providerCall

	nextListener     int
	accountListeners map[int]web3.AccountsListener
	chainListeners   map[int]web3.ChainListener
}

func newFakeProvider(chainID string, accounts ...string) *fakeProvider {
	return &fakeProvider{
		chainID:          chainID,
		accounts:         accounts,
		requestAccounts:  accounts,
		accountListeners: map[int]web3.AccountsListener{},
		chainListeners:   map[int]web3.ChainListener{},
	}
}

func (p *fakeProvider) Request(_ context.Context, method string, params []any, result any) error {
	p.mu.Lock()
	p.calls = append(p.calls, providerCall{method: method, params: params})
	var (
		value any
		err   error
	)
	switch method {
	case web3.MethodChainID:
		value = p.chainID
	case web3.MethodAccounts:
		value = append([]string{}, p.accounts...)
	case web3.MethodRequestAccounts:
		value, err = append([]string{}, p.requestAccounts...), p.requestErr
	case web3.MethodSwitchChain:
		err = p.switchErr
		if err == nil {
			var target struct {
				ChainID string `json:"chainId"`
			}
			encoded, _ := json.Marshal(params[0])
			_ = json.Unmarshal(encoded, &target)
			p.chainID = target.ChainID
		}
	case web3.MethodSendTransaction:
		err = p.sendErr
		value = common.BigToHash(big.NewInt(int64(len(p.calls))))
	default:
		err = errors.New("unexpected method " + method)
	}
	p.mu.Unlock()

	if err != nil || result == nil {
		return err
	}
	encoded, _ := json.Marshal(value)
	return json.Unmarshal(encoded, result)
}

func (p *fakeProvider) SubscribeAccounts(listener web3.AccountsListener) web3.Unsubscribe {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextListener
	p.nextListener++
	p.accountListeners[id] = listener
	return func() {
		p.mu.Lock()
		delete(p.accountListeners, id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) SubscribeChain(listener web3.ChainListener) web3.Unsubscribe {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextListener
	p.nextListener++
	p.chainListeners[id] = listener
	return func() {
		p.mu.Lock()
		delete(p.chainListeners, id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) emitAccounts(accounts ...web3.Address) {
	p.mu.Lock()
	listeners := make([]web3.AccountsListener, 0, len(p.accountListeners))
	for _, l := range p.accountListeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()
	for _, l := range listeners {
		l(accounts)
	}
}

func (p *fakeProvider) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accountListeners) + len(p.chainListeners)
}

func (p *fakeProvider) methodCalls(method string) []providerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []providerCall
	for _, c := range p.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeContract struct {
	mu      sync.Mutex
	entries []web3.LedgerEntry
	count   int64
	loads   int
	loadErr error
	addErr  error
	waitErr error
	release chan struct{}
}

func (c *fakeContract) GetAllTransactions(context.Context) ([]web3.LedgerEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	return append([]web3.LedgerEntry(nil), c.entries...), nil
}

func (c *fakeContract) GetTransactionCount(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return big.NewInt(c.count), nil
}

func (c *fakeContract) AddToBlockchain(_ context.Context, from, receiver web3.Address, amount *big.Int, message, keyword string) (web3.PendingTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addErr != nil {
		return nil, c.addErr
	}
	c.entries = append(c.entries, web3.LedgerEntry{
		Sender:    from.Common(),
		Receiver:  receiver.Common(),
		Amount:    new(big.Int).Set(amount),
		Message:   message,
		Timestamp: big.NewInt(1700000000),
		Keyword:   keyword,
	})
	c.count++
	return &fakePending{contract: c, hash: common.BigToHash(big.NewInt(c.count + 1000))}, nil
}

func (c *fakeContract) loadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

type fakePending struct {
	contract *fakeContract
	hash     common.Hash
}

func (p *fakePending) Hash() common.Hash { return p.hash }

func (p *fakePending) Wait(ctx context.Context) (*coretypes.Receipt, error) {
	p.contract.mu.Lock()
	release, waitErr := p.contract.release, p.contract.waitErr
	p.contract.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if waitErr != nil {
		return nil, waitErr
	}
	return &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(42)}, nil
}

type recordingBinder struct {
	mu       sync.Mutex
	contract web3.Contract
	chains   []string
}

func (b *recordingBinder) bind(_ context.Context, chainID string) (web3.Contract, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chains = append(b.chains, chainID)
	return b.contract, nil
}

func (b *recordingBinder) bindCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chains)
}

type rpcCodeError struct{ code int }

func (e rpcCodeError) Error() string  { return "provider error" }
func (e rpcCodeError) ErrorCode() int { return e.code }

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, evt alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingAlerts) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}
