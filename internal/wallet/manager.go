package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/event"
	"WalletBridge/internal/observability/alerting"
	"WalletBridge/internal/observability/metrics"
	"WalletBridge/internal/session"
	"WalletBridge/internal/web3"
	"WalletBridge/pkg/logger"
)

// Options wires a Manager to its collaborators. Only Store is required; a
// nil Provider models "no wallet installed".
type Options struct {
	Provider        web3.Provider
	Store           session.Store
	Binder          web3.ContractBinder
	Events          event.Publisher
	History         *HistoryLoader
	ExpectedChainID string
	ConfirmTimeout  time.Duration
	// Alerts is notified when a submission fails for a reason other than
	// user rejection.
	Alerts          alerting.Dispatcher
}

// Manager is the single source of truth for the wallet session.
type Manager struct {
	provider  web3.Provider
	store     session.Store
	binder    web3.ContractBinder
	events    event.Publisher
	history   *HistoryLoader
	alerts    alerting.Dispatcher
	guard     *NetworkGuard
	submitter *Submitter
	log       *slog.Logger

	mu          sync.RWMutex
	status      Status
	session     Session
	draft       Draft
	records     []TransactionRecord
	count       uint64
	countKnown  bool
	pending     bool
	pendingHash string
	epoch       uint64
	contract    web3.Contract

	lifeMu    sync.Mutex
	started   bool
	closed    bool
	disposers []web3.Unsubscribe
	cancel    context.CancelFunc
}

// NewManager builds a disconnected manager.
func NewManager(opts Options) *Manager {
	store := opts.Store
	if store == nil {
		store = session.NewMemoryStore()
	}
	history := opts.History
	if history == nil {
		history = NewHistoryLoader(nil, "")
	}
	m := &Manager{
		provider: opts.Provider,
		store:    store,
		binder:   opts.Binder,
		events:   opts.Events,
		history:  history,
		alerts:   opts.Alerts,
		guard:    NewNetworkGuard(opts.Provider, opts.ExpectedChainID),
		log:      logger.Named("wallet"),
		status:   StatusDisconnected,
	}
	m.submitter = newSubmitter(m, opts.ConfirmTimeout)
	return m
}

// Submitter returns the transaction submitter bound to this manager.
func (m *Manager) Submitter() *Submitter { return m.submitter }

// Guard returns the network guard.
func (m *Manager) Guard() *NetworkGuard { return m.guard }

// Start subscribes to provider events and restores the previous session.
// Restore failures are logged, not returned.
func (m *Manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	if m.closed {
		m.lifeMu.Unlock()
		return xerrors.New(xerrors.CodeInitializationFailure, "钱包管理器已关闭")
	}
	if m.started {
		m.lifeMu.Unlock()
		return nil
	}
	m.started = true
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	if m.provider != nil {
		m.disposers = append(m.disposers,
			m.provider.SubscribeAccounts(func(accounts []web3.Address) { m.OnAccountsChanged(base, accounts) }),
			m.provider.SubscribeChain(func(chainID string) { m.OnChainChanged(base, chainID) }),
		)
	}
	m.lifeMu.Unlock()

	m.loadPersistedCount(ctx)
	if err := m.RestoreSession(ctx); err != nil {
		m.log.Warn("session restore failed", slog.Any("error", err))
	}
	return nil
}

// Close disposes every provider subscription. It is safe to call twice.
func (m *Manager) Close() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, dispose := range m.disposers {
		dispose()
	}
	m.disposers = nil
	if m.cancel != nil {
		m.cancel()
	}
}

// RestoreSession silently restores the session: already authorized provider
// accounts win, then the persisted account is adopted optimistically.
func (m *Manager) RestoreSession(ctx context.Context) error {
	if m.provider == nil {
		m.log.Info("no wallet provider present, staying disconnected")
		return nil
	}
	epoch := m.currentEpoch()

	chainID, err := m.guard.Ensure(ctx)
	if xerrors.Fatal(err) {
		m.log.Warn("unable to read active chain", slog.Any("error", err))
	}
	if chainID != "" {
		m.mu.Lock()
		if m.epoch == epoch {
			m.session.ChainID = chainID
		}
		m.mu.Unlock()
		m.rebind(ctx, chainID, epoch)
	}

	accounts, err := web3.Accounts(ctx, m.provider)
	if err != nil {
		return err
	}
	if len(accounts) > 0 {
		m.adopt(ctx, accounts[0], "restored", true)
		return nil
	}

	saved, ok, err := m.store.Get(ctx, session.KeyCurrentAccount)
	if err != nil {
		return err
	}
	if ok && saved != "" {
		account := web3.Address(saved)
		if account.Valid() {
			m.log.Info("optimistically restoring persisted account", slog.String("account", saved))
			m.adopt(ctx, account, "restored_from_store", false)
			return nil
		}
		m.log.Warn("discarding malformed persisted account", slog.String("account", saved))
		if err := m.store.Remove(ctx, session.KeyCurrentAccount); err != nil {
			m.log.Warn("remove persisted account failed", slog.Any("error", err))
		}
	}

	m.mu.Lock()
	m.status = StatusDisconnected
	m.mu.Unlock()
	m.log.Info("no authorized account found")
	m.publish(ctx, "restore_empty")
	return nil
}

// Connect prompts the wallet for account authorization.
func (m *Manager) Connect(ctx context.Context) error {
	if m.provider == nil {
		return xerrors.New(xerrors.CodeProviderUnavailable, "")
	}

	m.mu.Lock()
	prev := m.status
	m.status = StatusConnecting
	m.mu.Unlock()
	m.publish(ctx, "connecting")

	accounts, err := web3.RequestAccounts(ctx, m.provider)
	if err == nil && len(accounts) == 0 {
		err = xerrors.New(xerrors.CodeNotConnected, "钱包未返回任何账户")
	}
	if err != nil {
		m.mu.Lock()
		if m.status == StatusConnecting {
			m.status = prev
		}
		m.mu.Unlock()
		m.log.Warn("wallet connect failed", slog.Any("error", err))
		logger.Audit().Info("wallet_connect_failed", slog.String("code", string(xerrors.CodeOf(err))))
		m.publish(ctx, "connect_failed")
		return err
	}

	logger.Audit().Info("wallet_connected", slog.String("account", string(accounts[0])))
	m.adopt(ctx, accounts[0], "connected", true)
	return nil
}

// Disconnect forgets the account locally. Provider-side authorization is
// left untouched.
func (m *Manager) Disconnect(ctx context.Context) error {
	err := m.clearSession(ctx, "disconnected")
	logger.Audit().Info("wallet_disconnected")
	return err
}

// OnAccountsChanged handles the provider's accountsChanged event.
func (m *Manager) OnAccountsChanged(ctx context.Context, accounts []web3.Address) {
	if len(accounts) == 0 {
		if err := m.clearSession(ctx, "accounts_cleared"); err != nil {
			m.log.Warn("clear session failed", slog.Any("error", err))
		}
		return
	}
	m.mu.RLock()
	current := m.session.Account
	m.mu.RUnlock()
	if strings.EqualFold(string(accounts[0]), string(current)) {
		return
	}
	m.log.Info("account switched", slog.String("from", string(current)), slog.String("to", string(accounts[0])))
	m.adopt(ctx, accounts[0], "account_changed", true)
}

// OnChainChanged handles the provider's chainChanged event by reinitializing
// all chain-bound state.
func (m *Manager) OnChainChanged(ctx context.Context, chainID string) {
	m.reinitialize(ctx, chainID)
}

// reinitialize drops the contract binding and cached state and restores the
// session again. A pending submission is left running on its own binding.
func (m *Manager) reinitialize(ctx context.Context, chainID string) {
	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.session = Session{ChainID: web3.NormalizeChainID(chainID)}
	m.status = StatusDisconnected
	m.records = nil
	m.contract = nil
	m.countKnown = false
	m.mu.Unlock()

	metrics.SetConnected(false)
	metrics.SetHistorySize(0)
	m.log.Info("chain changed, reinitializing", slog.String("chain_id", chainID), slog.Uint64("epoch", epoch))
	m.publish(ctx, "chain_changed")

	if err := m.RestoreSession(ctx); err != nil {
		m.log.Warn("session restore after chain change failed", slog.Any("error", err))
	}
}

// Reload refreshes the ledger history of the current binding.
func (m *Manager) Reload(ctx context.Context) error {
	return m.reloadHistory(ctx)
}

// HandleChange updates one draft field.
func (m *Manager) HandleChange(field, value string) error {
	m.mu.Lock()
	switch field {
	case FieldAddressTo:
		m.draft.AddressTo = value
	case FieldAmount:
		m.draft.Amount = value
	case FieldKeyword:
		m.draft.Keyword = value
	case FieldMessage:
		m.draft.Message = value
	default:
		m.mu.Unlock()
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的草稿字段 %q", field))
	}
	m.mu.Unlock()
	return nil
}

// ResetDraft clears the draft.
func (m *Manager) ResetDraft() {
	m.mu.Lock()
	m.draft = Draft{}
	m.mu.Unlock()
}

// Draft returns the current draft.
func (m *Manager) Draft() Draft {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.draft
}

// Send submits draft through the manager's submitter.
func (m *Manager) Send(ctx context.Context, draft Draft) (*SubmissionResult, error) {
	return m.submitter.Send(ctx, draft)
}

// SendDraft submits the current draft. The draft is kept afterwards.
func (m *Manager) SendDraft(ctx context.Context) (*SubmissionResult, error) {
	return m.submitter.Send(ctx, m.Draft())
}

// Snapshot returns a copy of the published state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := State{
		Status:       m.status,
		Session:      m.session,
		Draft:        m.draft,
		Transactions: append(make([]TransactionRecord, 0, len(m.records)), m.records...),
		Pending:      m.pending,
		PendingHash:  m.pendingHash,
		Epoch:        m.epoch,
	}
	if m.countKnown {
		count := m.count
		st.TransactionCount = &count
	}
	return st
}

func (m *Manager) adopt(ctx context.Context, account web3.Address, reason string, persist bool) {
	m.mu.Lock()
	m.session.Account = account
	m.status = StatusConnected
	m.mu.Unlock()
	metrics.SetConnected(true)

	if persist {
		if err := m.store.Set(ctx, session.KeyCurrentAccount, string(account)); err != nil {
			m.log.Warn("persist account failed", slog.Any("error", err))
		}
	}
	m.publish(ctx, reason)
	_ = m.reloadHistory(ctx)
	m.refreshTransactionCount(ctx)
}

func (m *Manager) clearSession(ctx context.Context, reason string) error {
	m.mu.Lock()
	m.session.Account = ""
	m.status = StatusDisconnected
	m.records = nil
	m.mu.Unlock()
	metrics.SetConnected(false)
	metrics.SetHistorySize(0)

	err := m.store.Remove(ctx, session.KeyCurrentAccount)
	if err != nil {
		m.log.Warn("remove persisted account failed", slog.Any("error", err))
	}
	m.publish(ctx, reason)
	return err
}

func (m *Manager) rebind(ctx context.Context, chainID string, epoch uint64) {
	if m.binder == nil {
		return
	}
	contract, err := m.binder(ctx, chainID)
	if err != nil {
		m.log.Warn("bind ledger contract failed", slog.String("chain_id", chainID), slog.Any("error", err))
		contract = nil
	}
	m.mu.Lock()
	if m.epoch == epoch {
		m.contract = contract
	}
	m.mu.Unlock()
}

func (m *Manager) reloadHistory(ctx context.Context) error {
	m.mu.RLock()
	contract, epoch, connected := m.contract, m.epoch, m.session.Connected()
	m.mu.RUnlock()
	if !connected {
		return nil
	}

	records, err := m.history.Load(ctx, contract)
	if err != nil {
		m.log.Warn("history reload failed", slog.Any("error", err))
		return err
	}

	m.mu.Lock()
	if m.epoch != epoch || !m.session.Connected() {
		m.mu.Unlock()
		return nil
	}
	m.records = records
	m.mu.Unlock()

	metrics.SetHistorySize(len(records))
	m.publish(ctx, "history_loaded")
	return nil
}

// refreshTransactionCount mirrors the ledger counter. The cached value never
// decreases within one chain binding.
func (m *Manager) refreshTransactionCount(ctx context.Context) {
	m.mu.RLock()
	contract, epoch, connected := m.contract, m.epoch, m.session.Connected()
	m.mu.RUnlock()
	if contract == nil || !connected {
		return
	}

	count, err := contract.GetTransactionCount(ctx)
	if err != nil {
		m.log.Warn("read transaction count failed", slog.Any("error", err))
		return
	}
	if count == nil || !count.IsUint64() {
		m.log.Warn("transaction count out of range", slog.Any("count", count))
		return
	}
	value := count.Uint64()

	m.mu.Lock()
	if m.epoch != epoch || (m.countKnown && value < m.count) {
		m.mu.Unlock()
		return
	}
	m.count = value
	m.countKnown = true
	m.mu.Unlock()

	if err := m.store.Set(ctx, session.KeyTransactionCount, strconv.FormatUint(value, 10)); err != nil {
		m.log.Warn("persist transaction count failed", slog.Any("error", err))
	}
}

func (m *Manager) loadPersistedCount(ctx context.Context) {
	raw, ok, err := m.store.Get(ctx, session.KeyTransactionCount)
	if err != nil || !ok {
		return
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		m.log.Warn("ignoring malformed persisted transaction count", slog.String("value", raw))
		return
	}
	m.mu.Lock()
	if !m.countKnown {
		m.count = value
		m.countKnown = true
	}
	m.mu.Unlock()
}

func (m *Manager) setPending(hash string, pending bool) {
	m.mu.Lock()
	m.pending = pending
	m.pendingHash = hash
	m.mu.Unlock()
}

func (m *Manager) binding() (web3.Address, web3.Contract) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Account, m.contract
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

func (m *Manager) publish(ctx context.Context, reason string) {
	if m.events == nil {
		return
	}
	evt, err := event.NewStateChanged(reason, m.Snapshot())
	if err != nil {
		m.log.Warn("encode state event failed", slog.Any("error", err))
		return
	}
	if err := m.events.Publish(ctx, evt); err != nil {
		m.log.Warn("publish state event failed", slog.String("reason", reason), slog.Any("error", err))
	}
}
