package wallet

import (
	"WalletBridge/internal/web3"

	"github.com/shopspring/decimal"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Session is the connected account and the chain it was observed on.
type Session struct {
	Account web3.Address `json:"account"`
	ChainID string       `json:"chain_id"`
}

// Connected reports whether an account is held.
func (s Session) Connected() bool { return !s.Account.Empty() }

// Draft is the scratch input of the next submission.
type Draft struct {
	AddressTo string `json:"addressTo"`
	Amount    string `json:"amount"`
	Keyword   string `json:"keyword"`
	Message   string `json:"message"`
}

// Draft field names accepted by HandleChange.
const (
	FieldAddressTo = "addressTo"
	FieldAmount    = "amount"
	FieldKeyword   = "keyword"
	FieldMessage   = "message"
)

// TransactionRecord is one normalized ledger entry.
type TransactionRecord struct {
	AddressFrom   string          `json:"addressFrom"`
	AddressTo     string          `json:"addressTo"`
	Timestamp     string          `json:"timestamp"`
	TimestampUnix int64           `json:"timestamp_unix"`
	Keyword       string          `json:"keyword"`
	Message       string          `json:"message"`
	AmountEther   decimal.Decimal `json:"amount"`
	AmountWei     string          `json:"amount_wei"`
}

// State is an immutable snapshot of everything the manager publishes.
type State struct {
	Status           Status              `json:"status"`
	Session          Session             `json:"session"`
	Draft            Draft               `json:"draft"`
	Transactions     []TransactionRecord `json:"transactions"`
	TransactionCount *uint64             `json:"transaction_count,omitempty"`
	Pending          bool                `json:"pending"`
	PendingHash      string              `json:"pending_hash,omitempty"`
	Epoch            uint64              `json:"epoch"`
}

// SubmissionResult describes a confirmed submission.
type SubmissionResult struct {
	ID           string `json:"id"`
	TransferHash string `json:"transfer_hash"`
	RecordHash   string `json:"record_hash"`
	BlockNumber  uint64 `json:"block_number"`
	AmountWei    string `json:"amount_wei"`
}
