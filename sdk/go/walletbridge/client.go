// Package walletbridge is a Go client for the WalletBridge REST API.
package walletbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Submissions block until the ledger write is confirmed, so it is generous.
const DefaultHTTPTimeout = 3 * time.Minute

// Client wraps the HTTP interactions with the WalletBridge REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Session mirrors the connected account and chain.
type Session struct {
	Account string `json:"account"`
	ChainID string `json:"chain_id"`
}

// Draft is the transaction form.
type Draft struct {
	AddressTo string `json:"addressTo"`
	Amount    string `json:"amount"`
	Keyword   string `json:"keyword"`
	Message   string `json:"message"`
}

// TransactionRecord is one ledger entry as rendered by the server.
type TransactionRecord struct {
	AddressFrom   string `json:"addressFrom"`
	AddressTo     string `json:"addressTo"`
	Timestamp     string `json:"timestamp"`
	TimestampUnix int64  `json:"timestamp_unix"`
	Keyword       string `json:"keyword"`
	Message       string `json:"message"`
	Amount        string `json:"amount"`
	AmountWei     string `json:"amount_wei"`
}

// State is the server's session snapshot.
type State struct {
	Status           string              `json:"status"`
	Session          Session             `json:"session"`
	Draft            Draft               `json:"draft"`
	Transactions     []TransactionRecord `json:"transactions"`
	TransactionCount *uint64             `json:"transaction_count,omitempty"`
	Pending          bool                `json:"pending"`
	PendingHash      string              `json:"pending_hash,omitempty"`
	Epoch            uint64              `json:"epoch"`
}

// Transactions is the ledger listing.
type Transactions struct {
	Transactions     []TransactionRecord `json:"transactions"`
	TransactionCount *uint64             `json:"transaction_count,omitempty"`
	Pending          bool                `json:"pending"`
}

// SubmissionResult describes a confirmed submission.
type SubmissionResult struct {
	ID           string `json:"id"`
	TransferHash string `json:"transfer_hash"`
	RecordHash   string `json:"record_hash"`
	BlockNumber  uint64 `json:"block_number"`
	AmountWei    string `json:"amount_wei"`
}

// Event is one state change pushed by the server.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Reason     string          `json:"reason"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode  int
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	UserVisible bool              `json:"user_visible"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("walletbridge api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("walletbridge api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the WalletBridge API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// State fetches the current session snapshot.
func (c *Client) State(ctx context.Context) (State, error) {
	var st State
	if err := c.do(ctx, http.MethodGet, "/api/v1/state", nil, nil, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Connect asks the wallet for account authorization.
func (c *Client) Connect(ctx context.Context) (State, error) {
	var st State
	if err := c.do(ctx, http.MethodPost, "/api/v1/connect", nil, nil, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Disconnect forgets the connected account.
func (c *Client) Disconnect(ctx context.Context) (State, error) {
	var st State
	if err := c.do(ctx, http.MethodPost, "/api/v1/disconnect", nil, nil, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Transactions lists the ledger. refresh forces a reload from the contract.
func (c *Client) Transactions(ctx context.Context, refresh bool) (Transactions, error) {
	var query url.Values
	if refresh {
		query = url.Values{"refresh": []string{"true"}}
	}
	var out Transactions
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions", query, nil, &out); err != nil {
		return Transactions{}, err
	}
	return out, nil
}

// Send submits draft and blocks until the ledger write is confirmed.
func (c *Client) Send(ctx context.Context, draft Draft) (SubmissionResult, error) {
	var result SubmissionResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", nil, draft, &result); err != nil {
		return SubmissionResult{}, err
	}
	return result, nil
}

// SendDraft submits the draft held by the server.
func (c *Client) SendDraft(ctx context.Context) (SubmissionResult, error) {
	var result SubmissionResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", nil, nil, &result); err != nil {
		return SubmissionResult{}, err
	}
	return result, nil
}

// Draft returns the draft held by the server.
func (c *Client) Draft(ctx context.Context) (Draft, error) {
	var d Draft
	if err := c.do(ctx, http.MethodGet, "/api/v1/draft", nil, nil, &d); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// SetDraftField updates one draft field.
func (c *Client) SetDraftField(ctx context.Context, field, value string) (Draft, error) {
	payload := map[string]string{"field": field, "value": value}
	var d Draft
	if err := c.do(ctx, http.MethodPut, "/api/v1/draft", nil, payload, &d); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// ResetDraft clears the server's draft.
func (c *Client) ResetDraft(ctx context.Context) (Draft, error) {
	var d Draft
	if err := c.do(ctx, http.MethodDelete, "/api/v1/draft", nil, nil, &d); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// Events streams state changes to fn until ctx is cancelled, the stream ends
// or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/events", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	stream := *c.httpClient
	stream.Timeout = 0
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var evt Event
			if err := json.Unmarshal([]byte(data.String()), &evt); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if err := fn(evt); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
