// Package posclient talks to the transaction service over HTTP/JSON on behalf
// of a cashier terminal.
package posclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"partsdesk/internal/domain"
	"partsdesk/internal/pos"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("transaction service: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transaction service: %s: %s", e.Code, e.Message)
}

// Unwrap exposes the remote sentinels the core branches on.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "insufficient_stock":
		return pos.ErrRemoteStockExceeded
	case "illegal_transition":
		return pos.ErrRemoteIllegalTransition
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

// WithHTTPClient replaces the default client. The default has no timeout;
// callers bound requests through their context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("posclient")
	return c
}

var (
	_ pos.TransactionStore  = (*Client)(nil)
	_ pos.ProductSearcher   = (*Client)(nil)
	_ pos.TransactionReader = (*Client)(nil)
	_ pos.PartsmanDirectory = (*Client)(nil)
)

// Login exchanges credentials for a bearer token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username string, password string) (*domain.LoginResponse, error) {
	var resp domain.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", nil, domain.LoginRequest{Username: username, Password: password}, nil, &resp); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = resp.AccessToken
	c.mu.Unlock()
	return &resp, nil
}

func (c *Client) SearchProducts(ctx context.Context, req domain.ProductSearchRequest) (*domain.ProductSearchResponse, error) {
	query := pageQuery(req.Page, req.Limit, req.Search)
	if req.Status != "" {
		query.Set("status", string(req.Status))
	}
	var resp domain.ProductSearchResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/products", query, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateTransaction sends the idempotency key both in the body and as the
// Idempotency-Key header.
func (c *Client) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (*domain.Transaction, error) {
	headers := http.Header{}
	if req.IdempotencyKey != "" {
		headers.Set("Idempotency-Key", req.IdempotencyKey)
	}
	var resp domain.TransactionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", nil, req, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Duplicate {
		c.logger.Info("server returned existing transaction for idempotency key",
			zap.String("transaction_id", resp.Transaction.ID),
			zap.String("idempotency_key", req.IdempotencyKey),
		)
	}
	return &resp.Transaction, nil
}

func (c *Client) UpdateTransaction(ctx context.Context, id string, req domain.TransactionUpdateRequest) (*domain.Transaction, error) {
	var resp domain.TransactionResponse
	if err := c.do(ctx, http.MethodPut, "/api/v1/transactions/"+url.PathEscape(id), nil, req, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Transaction, nil
}

func (c *Client) CancelTransaction(ctx context.Context, id string) (*domain.StatusChangeResponse, error) {
	var resp domain.StatusChangeResponse
	if err := c.do(ctx, http.MethodPatch, "/api/v1/transactions/cancel/"+url.PathEscape(id), nil, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ReturnTransaction(ctx context.Context, id string) (*domain.StatusChangeResponse, error) {
	var resp domain.StatusChangeResponse
	if err := c.do(ctx, http.MethodPatch, "/api/v1/transactions/return/"+url.PathEscape(id), nil, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) MyTransactions(ctx context.Context, req domain.TransactionListRequest) (*domain.TransactionListResponse, error) {
	query := pageQuery(req.Page, req.Limit, req.Search)
	if req.Status != "" {
		query.Set("status", string(req.Status))
	}
	var resp domain.TransactionListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/my-transactions", query, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) MyStatistics(ctx context.Context) (*domain.TransactionStatistics, error) {
	var resp domain.TransactionStatistics
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/statistics", nil, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SalesStatistics fetches the store-wide dashboard figures. Admin only.
func (c *Client) SalesStatistics(ctx context.Context) (*domain.SalesStatistics, error) {
	var resp domain.SalesStatistics
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/sales-statistics", nil, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteProduct removes a product from the catalogue. Admin only.
func (c *Client) DeleteProduct(ctx context.Context, id string) (*domain.StatusChangeResponse, error) {
	var resp domain.StatusChangeResponse
	if err := c.do(ctx, http.MethodDelete, "/api/v1/products/"+url.PathEscape(id), nil, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	query := url.Values{}
	if role != "" {
		query.Set("role", role)
	}
	var resp domain.UserListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/users", query, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) Partsmen(ctx context.Context) ([]pos.Partsman, error) {
	users, err := c.ListUsers(ctx, domain.RolePartsman)
	if err != nil {
		return nil, err
	}
	out := make([]pos.Partsman, 0, len(users))
	for _, u := range users {
		out = append(out, pos.Partsman{ID: u.Username, Name: u.Name})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method string, path string, query url.Values, body any, headers http.Header, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, pos.ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w: %w", method, path, pos.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
			apiErr.Code = errBody.Code
			apiErr.Message = errBody.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		c.logger.Debug("request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w: %w", method, path, pos.ErrTransport, err)
	}
	return nil
}

func pageQuery(page int, limit int, search string) url.Values {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if s := strings.TrimSpace(search); s != "" {
		query.Set("search", s)
	}
	return query
}
