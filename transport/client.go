package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itiky/drop-engine/model"
)

// RequestIdHeader carries a per request uuid.
const RequestIdHeader = "X-Request-ID"

type (
	// Client calls the single action endpoint.
	Client struct {
		baseURL *url.URL
		http    *http.Client
		logger  *zap.Logger
	}

	// ClientOption configures a Client.
	ClientOption func(c *Client)
)

// WithHTTPClient replaces the host HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithLogger sets the Client logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.Named("transport")
		}
	}
}

// BaseURL returns the endpoint URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// State polls the drop state.
func (c *Client) State(ctx context.Context, req model.StateRequest) (*model.StateResponse, error) {
	params := authParams(req.Auth)
	if req.ForumId > 0 {
		params.Set("forum_id", strconv.FormatInt(int64(req.ForumId), 10))
	}
	if req.PageUrl != "" {
		params.Set("page_url", req.PageUrl)
	}

	res := model.StateResponse{}
	if err := c.do(ctx, http.MethodGet, model.ActionState, params, nil, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// Online polls presence.
func (c *Client) Online(ctx context.Context, auth model.Auth) (*model.OnlineStats, error) {
	res := model.OnlineResponse{}
	if err := c.do(ctx, http.MethodGet, model.ActionOnline, authParams(auth), nil, &res); err != nil {
		return nil, err
	}

	return &res.Online, nil
}

// Claim attempts to take a drop.
func (c *Client) Claim(ctx context.Context, req model.ClaimRequest) (*model.ClaimResponse, error) {
	res := model.ClaimResponse{}
	if err := c.do(ctx, http.MethodPost, model.ActionClaim, nil, req, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// Inventory fetches the viewer inventory.
func (c *Client) Inventory(ctx context.Context, auth model.Auth) (*model.Inventory, error) {
	res := model.InventoryResponse{}
	if err := c.do(ctx, http.MethodGet, model.ActionInventory, authParams(auth), nil, &res); err != nil {
		return nil, err
	}

	return &res.Inventory, nil
}

// BankState fetches the shared pool.
func (c *Client) BankState(ctx context.Context) (*model.BankState, error) {
	res := model.BankStateResponse{}
	if err := c.do(ctx, http.MethodGet, model.ActionBankState, nil, nil, &res); err != nil {
		return nil, err
	}

	return &res.Bank, nil
}

// BankDeposit moves viewer items to the bank.
func (c *Client) BankDeposit(ctx context.Context, req model.BankDepositRequest) (*model.BankDepositResponse, error) {
	res := model.BankDepositResponse{}
	if err := c.do(ctx, http.MethodPost, model.ActionBankDeposit, nil, req, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// ChestOpen opens one chest.
func (c *Client) ChestOpen(ctx context.Context, req model.ChestOpenRequest) (*model.ChestOpenResponse, error) {
	res := model.ChestOpenResponse{}
	if err := c.do(ctx, http.MethodPost, model.ActionChestOpen, nil, req, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// PurchaseRequest files a chest purchase request.
func (c *Client) PurchaseRequest(ctx context.Context, req model.PurchaseRequestRequest) (*model.ActionResponse, error) {
	res := model.ActionResponse{}
	if err := c.do(ctx, http.MethodPost, model.ActionPurchaseRequest, nil, req, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// AdminState fetches the admin panel payload.
func (c *Client) AdminState(ctx context.Context, req model.AdminStateRequest) (*model.AdminState, error) {
	params := authParams(req.Auth)
	if req.TargetUserId > 0 {
		params.Set("target_user_id", strconv.FormatInt(int64(req.TargetUserId), 10))
	}

	res := model.AdminState{}
	if err := c.do(ctx, http.MethodGet, model.ActionAdminState, params, nil, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// AdminTransfer executes a TransferOp.
func (c *Client) AdminTransfer(ctx context.Context, req model.AdminTransferRequest) (*model.TransferResult, error) {
	res := model.TransferResult{}
	if err := c.do(ctx, http.MethodPost, model.ActionAdminTransfer, nil, req, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// AdminPurchaseProcess marks a purchase request processed.
func (c *Client) AdminPurchaseProcess(ctx context.Context, req model.AdminPurchaseRequest) (*model.ActionResponse, error) {
	res := model.ActionResponse{}
	if err := c.do(ctx, http.MethodPost, model.ActionAdminPurchaseProcess, nil, req, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// AdminPurchaseDelete deletes a processed purchase request.
func (c *Client) AdminPurchaseDelete(ctx context.Context, req model.AdminPurchaseRequest) (*model.ActionResponse, error) {
	res := model.ActionResponse{}
	if err := c.do(ctx, http.MethodPost, model.ActionAdminPurchaseDelete, nil, req, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// do performs one action call and unwraps the envelope into result.
func (c *Client) do(ctx context.Context, method string, action model.Action, params url.Values, body, result interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("action", string(action))

	reqURL := *c.baseURL
	query := reqURL.Query()
	for key, values := range params {
		query[key] = values
	}
	reqURL.RawQuery = query.Encode()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", action, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", action, err)
	}
	requestId := uuid.NewString()
	req.Header.Set(RequestIdHeader, requestId)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	opStart := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", action, ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w: read response: %v", action, ErrTransport, err)
	}
	c.logger.Debug("call",
		zap.String("action", string(action)),
		zap.String("requestId", requestId),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(opStart)),
	)

	envelope := model.Envelope{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s: %w: HTTP %d", action, ErrTransport, resp.StatusCode)
		}
		return fmt.Errorf("%s: %w: envelope: %v", action, ErrMalformedResponse, err)
	}

	if !envelope.Ok {
		apiErr := parseError(envelope.Error)
		apiErr.Action = action
		return apiErr
	}

	if result == nil {
		return nil
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%s: %w: empty data", action, ErrMalformedResponse)
	}
	if err := json.Unmarshal(envelope.Data, result); err != nil {
		return fmt.Errorf("%s: %w: %v", action, ErrMalformedResponse, err)
	}

	return nil
}

// parseError accepts both a bare string and a {code, message} object.
func parseError(raw json.RawMessage) *APIError {
	apiErr := &APIError{Message: "unknown error"}
	if len(raw) == 0 {
		return apiErr
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		apiErr.Message = msg
		return apiErr
	}

	errBody := model.ErrorBody{}
	if err := json.Unmarshal(raw, &errBody); err == nil {
		apiErr.Code = errBody.Code
		if errBody.Message != "" {
			apiErr.Message = errBody.Message
		}
	}

	return apiErr
}

func authParams(auth model.Auth) url.Values {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(int64(auth.UserId), 10))
	params.Set("group_id", strconv.FormatInt(int64(auth.GroupId), 10))

	return params
}

// NewClient creates a new Client object.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%s: empty", "baseURL")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "timeout")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", "baseURL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s: unsupported scheme: %q", "baseURL", u.Scheme)
	}

	c := Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&c)
	}

	return &c, nil
}
