package wallet

import (
	"context"
	"log/slog"
	"time"

	"WalletBridge/internal/web3"
	"WalletBridge/pkg/logger"
)

// DefaultTimestampLayout renders timestamps the way a en-US locale does.
const DefaultTimestampLayout = "1/2/2006, 3:04:05 PM"

// HistoryLoader fetches the whole ledger and normalizes it.
type HistoryLoader struct {
	location *time.Location
	layout   string
	log      *slog.Logger
}

// NewHistoryLoader renders timestamps in loc with layout. Nil loc means local time.
func NewHistoryLoader(loc *time.Location, layout string) *HistoryLoader {
	if loc == nil {
		loc = time.Local
	}
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	return &HistoryLoader{location: loc, layout: layout, log: logger.Named("history")}
}

// Load returns every ledger record in contract order. A missing contract is
// not an error: the result is simply empty.
func (h *HistoryLoader) Load(ctx context.Context, contract web3.Contract) ([]TransactionRecord, error) {
	if contract == nil {
		h.log.Info("no contract bound, skipping history load")
		return nil, nil
	}
	entries, err := contract.GetAllTransactions(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]TransactionRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, h.normalize(entry))
	}
	return records, nil
}

func (h *HistoryLoader) normalize(entry web3.LedgerEntry) TransactionRecord {
	var ts int64
	if entry.Timestamp != nil {
		ts = entry.Timestamp.Int64()
	}
	rec := TransactionRecord{
		AddressFrom:   entry.Sender.Hex(),
		AddressTo:     entry.Receiver.Hex(),
		Timestamp:     time.Unix(ts, 0).In(h.location).Format(h.layout),
		TimestampUnix: ts,
		Keyword:       entry.Keyword,
		Message:       entry.Message,
		AmountEther:   FromWei(entry.Amount),
		AmountWei:     "0",
	}
	if entry.Amount != nil {
		rec.AmountWei = entry.Amount.String()
	}
	return rec
}
