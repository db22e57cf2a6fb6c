// Package web3 defines the wallet provider port, the typed JSON-RPC helpers
// built on top of it, the Transactions contract surface and the multi-chain
// definition file. Concrete EVM implementations live in the ethereum
// subpackage.
package web3
