package wallet

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/web3"
	"WalletBridge/pkg/logger"
)

// NetworkGuard asks the wallet to switch to the expected chain. It never
// blocks callers: a failed switch is reported as NETWORK_MISMATCH, which is
// not fatal.
type NetworkGuard struct {
	provider web3.Provider
	expected string
	log      *slog.Logger
}

// NewNetworkGuard builds a guard for expectedChainID. An empty expectation
// disables switching.
func NewNetworkGuard(provider web3.Provider, expectedChainID string) *NetworkGuard {
	return &NetworkGuard{
		provider: provider,
		expected: web3.NormalizeChainID(expectedChainID),
		log:      logger.Named("network-guard"),
	}
}

// Expected returns the target chain id.
func (g *NetworkGuard) Expected() string { return g.expected }

// Ensure returns the chain id that is active once the guard is done.
func (g *NetworkGuard) Ensure(ctx context.Context) (string, error) {
	current, err := web3.ChainID(ctx, g.provider)
	if err != nil {
		return "", err
	}
	if g.expected == "" || current == g.expected {
		return current, nil
	}

	if err := web3.SwitchChain(ctx, g.provider, g.expected); err != nil {
		g.log.Warn("chain switch failed, continuing on active chain",
			slog.String("active", current),
			slog.String("expected", g.expected),
			slog.Any("error", err))
		return current, xerrors.Wrap(xerrors.CodeNetworkMismatch, err,
			fmt.Sprintf("当前网络 %s 与期望网络 %s 不一致", current, g.expected),
			xerrors.WithMetadata("active", current),
			xerrors.WithMetadata("expected", g.expected))
	}
	g.log.Info("switched chain", slog.String("from", current), slog.String("to", g.expected))
	return g.expected, nil
}
