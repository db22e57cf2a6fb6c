package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/event"
	"WalletBridge/internal/observability/metrics"
	"WalletBridge/internal/wallet"
	"WalletBridge/pkg/logger"
)

const sseKeepalive = 15 * time.Second

// Wallet 是 API 依赖的钱包会话能力，由 *wallet.Manager 实现。
type Wallet interface {
	Snapshot() wallet.State
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Reload(ctx context.Context) error
	HandleChange(field, value string) error
	ResetDraft()
	Draft() wallet.Draft
	Send(ctx context.Context, draft wallet.Draft) (*wallet.SubmissionResult, error)
	SendDraft(ctx context.Context) (*wallet.SubmissionResult, error)
}

// Server 负责暴露钱包会话的 REST 接口。
type Server struct {
	addr   string
	wallet Wallet
	events event.Subscriber
	log    *slog.Logger
}

// NewServer 构造 API 服务实例。events 为空时不提供事件流接口。
func NewServer(addr string, w Wallet, events event.Subscriber) *Server {
	return &Server{addr: addr, wallet: w, events: events, log: logger.Named("api")}
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/state", metrics.Middleware("/api/v1/state", http.HandlerFunc(s.handleState)))
	mux.Handle("/api/v1/connect", metrics.Middleware("/api/v1/connect", http.HandlerFunc(s.handleConnect)))
	mux.Handle("/api/v1/disconnect", metrics.Middleware("/api/v1/disconnect", http.HandlerFunc(s.handleDisconnect)))
	mux.Handle("/api/v1/transactions", metrics.Middleware("/api/v1/transactions", http.HandlerFunc(s.handleTransactions)))
	mux.Handle("/api/v1/draft", metrics.Middleware("/api/v1/draft", http.HandlerFunc(s.handleDraft)))
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("api server listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.wallet.Snapshot())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.wallet.Connect(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.wallet.Snapshot())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.wallet.Disconnect(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.wallet.Snapshot())
}

type transactionsResponse struct {
	Transactions     []wallet.TransactionRecord `json:"transactions"`
	TransactionCount *uint64                    `json:"transaction_count,omitempty"`
	Pending          bool                       `json:"pending"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTransactions(w, r)
	case http.MethodPost:
		s.handleSubmitTransaction(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if err := s.wallet.Reload(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
	}
	st := s.wallet.Snapshot()
	writeJSON(w, http.StatusOK, transactionsResponse{
		Transactions:     st.Transactions,
		TransactionCount: st.TransactionCount,
		Pending:          st.Pending,
	})
}

// handleSubmitTransaction 提交请求体中的草稿；请求体为空时提交当前草稿。
func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var draft wallet.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	var (
		result *wallet.SubmissionResult
		err    error
	)
	if draft == (wallet.Draft{}) {
		result, err = s.wallet.SendDraft(r.Context())
	} else {
		result, err = s.wallet.Send(r.Context(), draft)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type draftChange struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.wallet.Draft())
	case http.MethodPut:
		var change draftChange
		if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
			s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
			return
		}
		if err := s.wallet.HandleChange(change.Field, change.Value); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.wallet.Draft())
	case http.MethodDelete:
		s.wallet.ResetDraft()
		writeJSON(w, http.StatusOK, s.wallet.Draft())
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// handleEvents 以 Server-Sent Events 推送状态变化。
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.events == nil {
		s.writeError(w, xerrors.New(xerrors.CodeNotFound, "事件流未启用"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "不支持流式响应", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// 心跳与事件共用同一个写锁。
	var writeMu sync.Mutex
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	keepaliveDone := make(chan struct{})
	go func() {
		defer close(keepaliveDone)
		ticker := time.NewTicker(sseKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				_, err := fmt.Fprint(w, ": keepalive\n\n")
				if err == nil {
					flusher.Flush()
				}
				writeMu.Unlock()
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	err := s.events.Subscribe(ctx, func(_ context.Context, evt event.Event) error {
		encoded, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, encoded); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	cancel()
	<-keepaliveDone
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("event stream ended", slog.Any("error", err))
	}
}

type errorResponse struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	UserVisible bool              `json:"user_visible"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(err)
	resp := errorResponse{Code: string(code), Message: err.Error(), UserVisible: xerrors.UserVisible(err)}
	if e, ok := xerrors.From(err); ok {
		resp.Message = e.Message()
		resp.Metadata = e.Metadata()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", slog.String("code", string(code)), slog.Any("error", err))
	}
	writeJSON(w, status, resp)
}

// statusFor 将错误码映射为 HTTP 状态码，用户拒绝优先于外层的交易失败。
func statusFor(err error) int {
	if xerrors.IsCode(err, xerrors.CodeUserRejected) {
		return http.StatusForbidden
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, xerrors.CodeInvalidDraft:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeNotConnected, xerrors.CodeTransactionInFlight:
		return http.StatusConflict
	case xerrors.CodeProviderUnavailable, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTransactionFailed:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	http.Error(w, "不支持的请求方法", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
