package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"locker-service/internal/models"
	"locker-service/internal/util"

	"go.uber.org/zap"
)

const snapTransactionsPath = "/snap/v1/transactions"

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 1 << 20

// Config holds what the client needs to talk to Snap
type Config struct {
	ServerKey string
	BaseURL   string
	Timeout   time.Duration
}

// Client creates hosted Snap payment sessions
type Client struct {
	serverKey  string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new Snap client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		serverKey:  cfg.ServerKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

// Customer describes the payer shown on the Snap page
type Customer struct {
	FirstName string
	Email     string
}

// TransactionRequest is one payment attempt. OrderID must be unique per attempt.
type TransactionRequest struct {
	OrderID  string
	Amount   int64
	Customer Customer
}

// Transaction is the hosted payment session issued by Snap
type Transaction struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// GatewayError reports a failed Snap call
type GatewayError struct {
	StatusCode int
	Messages   []string
	Err        error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	b.WriteString("payment gateway")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == models.ErrGateway }

type snapRequest struct {
	TransactionDetails transactionDetails `json:"transaction_details"`
	CustomerDetails    *customerDetails   `json:"customer_details,omitempty"`
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type customerDetails struct {
	FirstName string `json:"first_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

type snapErrorResponse struct {
	ErrorMessages []string `json:"error_messages"`
}

// CreateTransaction registers the order with Snap and returns its token
func (c *Client) CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error) {
	ctx, span := util.StartOrderSpan(ctx, "Gateway.CreateTransaction", req.OrderID)
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewayLatency.Observe(time.Since(start).Seconds())
	}()

	if req.OrderID == "" || req.Amount <= 0 {
		return nil, &GatewayError{Err: fmt.Errorf("invalid transaction: order_id=%q amount=%d", req.OrderID, req.Amount)}
	}

	payload := snapRequest{
		TransactionDetails: transactionDetails{
			OrderID:     req.OrderID,
			GrossAmount: req.Amount,
		},
	}
	if req.Customer != (Customer{}) {
		payload.CustomerDetails = &customerDetails{
			FirstName: req.Customer.FirstName,
			Email:     req.Customer.Email,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Err: fmt.Errorf("marshal snap request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+snapTransactionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Err: fmt.Errorf("build snap request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.serverKey+":")))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Err: fmt.Errorf("snap request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read snap response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var snapErr snapErrorResponse
		_ = json.Unmarshal(respBody, &snapErr)

		c.logger.Warn("Snap rejected transaction",
			zap.String("order_id", req.OrderID),
			zap.Int("status", resp.StatusCode),
			zap.Strings("messages", snapErr.ErrorMessages))

		return nil, &GatewayError{StatusCode: resp.StatusCode, Messages: snapErr.ErrorMessages}
	}

	var tx Transaction
	if err := json.Unmarshal(respBody, &tx); err != nil {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode snap response: %w", err)}
	}
	if tx.Token == "" {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("snap response has no token")}
	}

	return &tx, nil
}
