package provider

import (
	"context"
	"testing"

	"WalletBridge/internal/config"
	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

func TestContractAddressResolution(t *testing.T) {
	defs, err := web3.ParseChainDefinitions([]byte(`
chains:
  sepolia:
    chain_id: "0xaa36a7"
    contract_address: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
  local:
    chain_id: "0x539"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg := NewRegistryWithProvider(config.Web3Config{
		ContractAddress: "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	}, defs, nil)

	addr, err := reg.ContractAddress("0xAA36A7")
	if err != nil || addr != common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed") {
		t.Fatalf("sepolia address = %s, %v", addr.Hex(), err)
	}
	addr, err = reg.ContractAddress("0x539")
	if err != nil || addr != common.HexToAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359") {
		t.Fatalf("fallback address = %s, %v", addr.Hex(), err)
	}

	if got := reg.Chains(); len(got) != 2 || got[0] != "local" {
		t.Fatalf("unexpected chains %v", got)
	}
	if reg.Provider() != nil {
		t.Fatal("expected nil provider")
	}
	if _, err := reg.Bind(context.Background(), "0xaa36a7"); !xerrors.IsCode(err, xerrors.CodeProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestContractAddressMissing(t *testing.T) {
	reg := NewRegistryWithProvider(config.Web3Config{}, web3.ChainDefinitions{}, nil)
	if _, err := reg.ContractAddress("0x1"); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
