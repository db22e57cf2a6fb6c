package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/observability/metrics"
	"WalletBridge/internal/web3"
	"WalletBridge/pkg/logger"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to reach a wallet provider over JSON-RPC.
type Config struct {
	Name         string
	RPCURL       string
	PollInterval time.Duration
}

// RPCProvider implements web3.Provider on top of a go-ethereum RPC client.
// accountsChanged and chainChanged are derived by a watcher goroutine that
// diffs eth_accounts and eth_chainId while at least one listener exists.
type RPCProvider struct {
	name         string
	rpcClient    *gethrpc.Client
	eth          *ethclient.Client
	pollInterval time.Duration
	log          *slog.Logger

	mu               sync.Mutex
	closed           bool
	nextID           uint64
	accountListeners map[uint64]web3.AccountsListener
	chainListeners   map[uint64]web3.ChainListener
	stop             chan struct{}
	done             chan struct{}
}

// NewRPCProvider dials the configured endpoint and returns a ready provider.
func NewRPCProvider(ctx context.Context, cfg Config) (*RPCProvider, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeProviderUnavailable, "未配置钱包 provider 的 RPC 地址")
	}
	client, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProviderUnavailable, err, "连接钱包 provider 失败")
	}
	return NewRPCProviderFromClient(cfg.Name, client, cfg.PollInterval), nil
}

// NewRPCProviderFromClient wraps an existing RPC client, e.g. an in-process one.
func NewRPCProviderFromClient(name string, client *gethrpc.Client, pollInterval time.Duration) *RPCProvider {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if name == "" {
		name = "default"
	}
	return &RPCProvider{
		name:             name,
		rpcClient:        client,
		eth:              ethclient.NewClient(client),
		pollInterval:     pollInterval,
		log:              logger.Named("provider").With(slog.String("provider", name)),
		accountListeners: make(map[uint64]web3.AccountsListener),
		chainListeners:   make(map[uint64]web3.ChainListener),
	}
}

// Eth exposes the typed client sharing the provider connection, used for
// eth_call and receipt lookups.
func (p *RPCProvider) Eth() *ethclient.Client {
	return p.eth
}

// Request implements web3.Provider.
func (p *RPCProvider) Request(ctx context.Context, method string, params []any, result any) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || p.rpcClient == nil {
		return xerrors.New(xerrors.CodeProviderUnavailable, "钱包 provider 已关闭")
	}

	start := time.Now()
	err := p.rpcClient.CallContext(ctx, result, method, params...)
	metrics.ObserveProviderCall(method, err, time.Since(start))
	if err != nil {
		p.log.Debug("provider request failed", slog.String("method", method), slog.Any("error", err))
	}
	return err
}

// SubscribeAccounts implements web3.Provider.
func (p *RPCProvider) SubscribeAccounts(listener web3.AccountsListener) web3.Unsubscribe {
	if listener == nil {
		return func() {}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.accountListeners[id] = listener
	p.ensureWatcherLocked()
	return p.disposer(func() { delete(p.accountListeners, id) })
}

// SubscribeChain implements web3.Provider.
func (p *RPCProvider) SubscribeChain(listener web3.ChainListener) web3.Unsubscribe {
	if listener == nil {
		return func() {}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.chainListeners[id] = listener
	p.ensureWatcherLocked()
	return p.disposer(func() { delete(p.chainListeners, id) })
}

func (p *RPCProvider) disposer(remove func()) web3.Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			remove()
			if len(p.accountListeners) == 0 && len(p.chainListeners) == 0 {
				p.stopWatcherLocked()
			}
		})
	}
}

func (p *RPCProvider) ensureWatcherLocked() {
	if p.closed || p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.watch(p.stop, p.done)
}

// stopWatcherLocked signals the watcher without waiting, so a listener may
// unsubscribe from inside its own callback.
func (p *RPCProvider) stopWatcherLocked() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
}

func (p *RPCProvider) watch(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		primed       bool
		lastAccounts []web3.Address
		lastChain    string
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		accounts, accErr := web3.Accounts(ctx, p)
		chainID, chainErr := web3.ChainID(ctx, p)
		if ctx.Err() != nil {
			return
		}
		if accErr != nil || chainErr != nil {
			p.log.Warn("provider watcher poll failed", slog.Any("accounts_error", accErr), slog.Any("chain_error", chainErr))
		} else {
			if !primed {
				primed = true
			} else {
				if !reflect.DeepEqual(normalizeAccounts(accounts), normalizeAccounts(lastAccounts)) {
					p.emitAccounts(accounts)
				}
				if chainID != lastChain {
					p.emitChain(chainID)
				}
			}
			lastAccounts = accounts
			lastChain = chainID
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (p *RPCProvider) emitAccounts(accounts []web3.Address) {
	p.mu.Lock()
	listeners := make([]web3.AccountsListener, 0, len(p.accountListeners))
	for _, l := range p.accountListeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(append([]web3.Address(nil), accounts...))
	}
}

func (p *RPCProvider) emitChain(chainID string) {
	p.mu.Lock()
	listeners := make([]web3.ChainListener, 0, len(p.chainListeners))
	for _, l := range p.chainListeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(chainID)
	}
}

// Close stops the watcher and releases the connection.
func (p *RPCProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stopWatcherLocked()
	done := p.done
	p.accountListeners = map[uint64]web3.AccountsListener{}
	p.chainListeners = map[uint64]web3.ChainListener{}
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	if p.rpcClient != nil {
		p.rpcClient.Close()
	}
	return nil
}

func normalizeAccounts(accounts []web3.Address) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = strings.ToLower(string(a))
	}
	return out
}

// String implements fmt.Stringer.
func (p *RPCProvider) String() string {
	return fmt.Sprintf("rpc-provider(%s)", p.name)
}

var _ web3.Provider = (*RPCProvider)(nil)
