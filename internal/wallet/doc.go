// Package wallet owns the wallet session lifecycle: connecting and restoring
// accounts, reacting to provider events, keeping the ledger history in sync
// and submitting paired value-transfer/ledger-record transactions.
package wallet
