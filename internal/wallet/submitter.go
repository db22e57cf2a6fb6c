package wallet

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/observability/alerting"
	"WalletBridge/internal/observability/metrics"
	"WalletBridge/internal/web3"
	"WalletBridge/pkg/logger"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// Submitter runs the two-phase submission: a native value transfer followed
// by a ledger record on the Transactions contract. Only one submission may
// be in flight; a concurrent Send is rejected.
type Submitter struct {
	m              *Manager
	confirmTimeout time.Duration
	inFlight       atomic.Bool
	log            *slog.Logger
}

func newSubmitter(m *Manager, confirmTimeout time.Duration) *Submitter {
	return &Submitter{m: m, confirmTimeout: confirmTimeout, log: logger.Named("submitter")}
}

// InFlight reports whether a submission is running.
func (s *Submitter) InFlight() bool { return s.inFlight.Load() }

// Send validates draft, submits both transactions and blocks until the ledger
// record is mined. Nothing is rolled back when the second phase fails.
func (s *Submitter) Send(ctx context.Context, draft Draft) (*SubmissionResult, error) {
	to := web3.Address(strings.TrimSpace(draft.AddressTo))
	if to.Empty() {
		metrics.ObserveSubmission("invalid")
		return nil, xerrors.New(xerrors.CodeInvalidDraft, "收款地址不能为空")
	}
	if !to.IsAccount() {
		metrics.ObserveSubmission("invalid")
		return nil, xerrors.New(xerrors.CodeInvalidDraft, "收款地址格式错误")
	}
	wei, err := ToWei(draft.Amount)
	if err != nil {
		metrics.ObserveSubmission("invalid")
		return nil, err
	}

	from, _ := s.m.binding()
	if from.Empty() {
		return nil, xerrors.New(xerrors.CodeNotConnected, "钱包未连接，无法发起交易")
	}
	if s.m.provider == nil {
		return nil, xerrors.New(xerrors.CodeProviderUnavailable, "")
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, xerrors.New(xerrors.CodeTransactionInFlight, "已有交易正在确认中")
	}
	defer s.inFlight.Store(false)

	id := uuid.NewString()
	log := s.log.With(slog.String("submission", id), slog.String("from", string(from)), slog.String("to", string(to)))

	if _, err := s.m.guard.Ensure(ctx); xerrors.Fatal(err) {
		log.Warn("network check failed, submitting on active chain", slog.Any("error", err))
	}

	gas := hexutil.Uint64(web3.NativeTransferGas)
	transferHash, err := web3.SendTransaction(ctx, s.m.provider, web3.TransactionRequest{
		From:  from,
		To:    to,
		Gas:   &gas,
		Value: (*hexutil.Big)(wei),
	})
	if err != nil {
		return nil, s.fail(ctx, log, id, "transfer", err)
	}
	log.Info("native transfer accepted", slog.String("hash", transferHash.Hex()))

	_, contract := s.m.binding()
	if contract == nil {
		return nil, s.fail(ctx, log, id, "record", xerrors.New(xerrors.CodeNotFound, "当前网络未绑定账本合约"))
	}
	pending, err := contract.AddToBlockchain(ctx, from, to, wei, draft.Message, draft.Keyword)
	if err != nil {
		return nil, s.fail(ctx, log, id, "record", err)
	}

	recordHash := pending.Hash().Hex()
	s.m.setPending(recordHash, true)
	s.m.publish(ctx, "transaction_pending")
	log.Info("waiting for ledger record", slog.String("hash", recordHash))

	waitCtx := ctx
	if s.confirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.confirmTimeout)
		defer cancel()
	}
	receipt, err := pending.Wait(waitCtx)
	s.m.setPending("", false)
	if err != nil {
		s.m.publish(ctx, "transaction_failed")
		return nil, s.fail(ctx, log, id, "confirm", err)
	}

	// refresh against whatever binding is current now, it may differ from the
	// one the record was written through
	s.m.refreshTransactionCount(ctx)
	_ = s.m.reloadHistory(ctx)
	s.m.publish(ctx, "transaction_confirmed")

	result := &SubmissionResult{
		ID:           id,
		TransferHash: transferHash.Hex(),
		RecordHash:   recordHash,
		AmountWei:    wei.String(),
	}
	if receipt != nil && receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	metrics.ObserveSubmission("confirmed")
	logger.Audit().Info("transaction_confirmed",
		slog.String("submission", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("amount_wei", result.AmountWei),
		slog.String("record_hash", recordHash))
	return result, nil
}

func (s *Submitter) fail(ctx context.Context, log *slog.Logger, id, stage string, cause error) error {
	outcome := "failed"
	if xerrors.IsCode(cause, xerrors.CodeUserRejected) {
		outcome = "rejected"
	}
	metrics.ObserveSubmission(outcome)
	log.Warn("submission failed", slog.String("stage", stage), slog.Any("error", cause))
	logger.Audit().Info("transaction_"+outcome,
		slog.String("submission", id),
		slog.String("stage", stage),
		slog.String("code", string(xerrors.CodeOf(cause))))
	if outcome == "failed" {
		s.alert(ctx, log, id, stage, cause)
	}
	return xerrors.Wrap(xerrors.CodeTransactionFailed, cause, "交易提交失败",
		xerrors.WithMetadata("stage", stage),
		xerrors.WithMetadata("submission", id))
}

// alert notifies operators. User rejections never reach it.
func (s *Submitter) alert(ctx context.Context, log *slog.Logger, id, stage string, cause error) {
	if s.m.alerts == nil {
		return
	}
	attrs := xerrors.AttributesOf(xerrors.CodeTransactionFailed)
	snap := s.m.Snapshot()
	evt := alerting.Event{
		Code:       xerrors.CodeTransactionFailed,
		Message:    cause.Error(),
		Severity:   attrs.Severity,
		Submission: id,
		Stage:      stage,
		Account:    string(snap.Session.Account),
		ChainID:    snap.Session.ChainID,
		Metadata:   map[string]string{"cause_code": string(xerrors.CodeOf(cause))},
		OccurredAt: time.Now().UTC(),
	}
	if err := s.m.alerts.Notify(context.WithoutCancel(ctx), evt); err != nil {
		log.Error("alert delivery failed", slog.Any("error", err))
	}
}
