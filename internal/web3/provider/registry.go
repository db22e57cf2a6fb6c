package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"WalletBridge/internal/config"
	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/web3"
	"WalletBridge/internal/web3/ethereum"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Registry owns the wallet provider connection and knows, per chain, where
// the Transactions contract is deployed.
type Registry struct {
	cfg      config.Web3Config
	defs     web3.ChainDefinitions
	provider *ethereum.RPCProvider

	mu      sync.Mutex
	readers map[string]*ethclient.Client
}

// NewRegistry loads chain definitions and dials the wallet provider.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	rpcURL := strings.TrimSpace(cfg.RPCURL)
	name := "default"
	if rpcURL == "" && cfg.DefaultChain != "" {
		def, ok := defs.Chains[cfg.DefaultChain]
		if !ok {
			return nil, fmt.Errorf("默认链 %s 未在配置中找到", cfg.DefaultChain)
		}
		rpcURL = def.RPCURL
		name = cfg.DefaultChain
	}
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeProviderUnavailable, "未配置任何钱包 provider 端点")
	}

	p, err := ethereum.NewRPCProvider(ctx, ethereum.Config{
		Name:         name,
		RPCURL:       rpcURL,
		PollInterval: cfg.PollInterval(),
	})
	if err != nil {
		return nil, err
	}
	return NewRegistryWithProvider(cfg, defs, p), nil
}

// NewRegistryWithProvider builds a registry around an existing provider.
func NewRegistryWithProvider(cfg config.Web3Config, defs web3.ChainDefinitions, p *ethereum.RPCProvider) *Registry {
	if defs.Chains == nil {
		defs.Chains = map[string]web3.ChainDefinition{}
	}
	return &Registry{
		cfg:      cfg,
		defs:     defs,
		provider: p,
		readers:  make(map[string]*ethclient.Client),
	}
}

// Provider returns the wallet provider.
func (r *Registry) Provider() web3.Provider {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider
}

// ContractAddress resolves the ledger address for chainID. Chains without an
// explicit entry fall back to the configured contract address.
func (r *Registry) ContractAddress(chainID string) (common.Address, error) {
	if r == nil {
		return common.Address{}, errors.New("未初始化的链注册表")
	}
	raw := r.cfg.ContractAddress
	if _, def, ok := r.defs.ByChainID(chainID); ok && def.ContractAddress != "" {
		raw = def.ContractAddress
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("链 %s 未配置合约地址", web3.NormalizeChainID(chainID)))
	}
	return common.HexToAddress(raw), nil
}

// Bind implements web3.ContractBinder.
func (r *Registry) Bind(ctx context.Context, chainID string) (web3.Contract, error) {
	address, err := r.ContractAddress(chainID)
	if err != nil {
		return nil, err
	}
	if r.provider == nil {
		return nil, xerrors.New(xerrors.CodeProviderUnavailable, "")
	}
	reader, err := r.reader(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return ethereum.NewContract(address, r.provider, reader, reader, r.cfg.ConfirmPollInterval()), nil
}

// reader returns the read client for chainID: a dedicated connection when the
// chain definition names an rpc_url, otherwise the provider's own.
func (r *Registry) reader(ctx context.Context, chainID string) (*ethclient.Client, error) {
	_, def, ok := r.defs.ByChainID(chainID)
	if !ok || strings.TrimSpace(def.RPCURL) == "" {
		return r.provider.Eth(), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.readers[def.ChainID]; ok {
		return client, nil
	}
	client, err := ethclient.DialContext(ctx, def.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接链 %s 的 RPC 失败: %w", def.ChainID, err)
	}
	r.readers[def.ChainID] = client
	return client, nil
}

// Chains returns the list of configured chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.defs.Chains))
	for name := range r.defs.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the provider and every read client.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	for id, client := range r.readers {
		client.Close()
		delete(r.readers, id)
	}
	r.mu.Unlock()
	if r.provider != nil {
		_ = r.provider.Close()
	}
}

var _ web3.ContractBinder = (*Registry)(nil).Bind
