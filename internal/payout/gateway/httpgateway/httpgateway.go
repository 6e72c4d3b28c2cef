// Package httpgateway talks to a JSON payout provider over HTTPS.
package httpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rubhub/payouts/internal/payout/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	ProviderName = "http"

	therapistTransferPath = "/v1/transfers/therapist"
	masterTransferPath    = "/v1/transfers/master"
	maxErrorBody          = 4 << 10
)

type Factory struct {
	client *http.Client
}

// NewFactory builds gateways that share client. A nil client gets a default one per gateway.
func NewFactory(client *http.Client) *Factory {
	return &Factory{client: client}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig) (domain.Gateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, domain.ErrInvalidConfig
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := f.client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Gateway{
		client:        client,
		baseURL:       baseURL,
		token:         strings.TrimSpace(cfg.APIToken),
		masterAccount: strings.TrimSpace(cfg.MasterAccount),
		timeout:       timeout,
	}, nil
}

type Gateway struct {
	client        *http.Client
	baseURL       string
	token         string
	masterAccount string
	timeout       time.Duration
}

type transferRequest struct {
	Kind        string `json:"kind"`
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	TherapistID string `json:"therapist_id,omitempty"`
	Account     string `json:"account,omitempty"`
	RunID       string `json:"run_id,omitempty"`
}

type transferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Gateway) Provider() string {
	return ProviderName
}

func (g *Gateway) TransferToTherapist(ctx context.Context, req domain.TherapistTransfer) (domain.TransferReceipt, error) {
	if req.Amount <= 0 || req.TherapistID == 0 || req.IdempotencyKey == "" {
		return domain.TransferReceipt{}, domain.ErrInvalidTransfer
	}
	return g.post(ctx, therapistTransferPath, req.IdempotencyKey, transferRequest{
		Kind:        "therapist",
		Reference:   req.PaymentID.String(),
		Amount:      req.Amount,
		Currency:    req.Currency,
		TherapistID: req.TherapistID.String(),
	})
}

func (g *Gateway) TransferToMaster(ctx context.Context, req domain.MasterTransfer) (domain.TransferReceipt, error) {
	if req.Amount <= 0 || req.IdempotencyKey == "" {
		return domain.TransferReceipt{}, domain.ErrInvalidTransfer
	}
	account := req.Account
	if account == "" {
		account = g.masterAccount
	}
	return g.post(ctx, masterTransferPath, req.IdempotencyKey, transferRequest{
		Kind:      "master",
		Reference: req.FeeTransferID.String(),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Account:   account,
		RunID:     req.RunID,
	})
}

func (g *Gateway) post(ctx context.Context, path, idempotencyKey string, payload transferRequest) (domain.TransferReceipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.TransferReceipt{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.TransferReceipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	if g.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return domain.TransferReceipt{}, statusError(resp)
	}

	var out transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return domain.TransferReceipt{}, fmt.Errorf("decode transfer response: %w", err)
	}
	if strings.EqualFold(out.Status, "rejected") {
		return domain.TransferReceipt{}, fmt.Errorf("%w: provider status %s", domain.ErrTransferRejected, out.Status)
	}
	return domain.TransferReceipt{Provider: ProviderName, Reference: out.ID}, nil
}

// statusError maps 5xx and 429 to ErrGatewayUnavailable and other 4xx to ErrTransferRejected.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(raw))
	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		detail = parsed.Error.Code + ": " + parsed.Error.Message
	}

	kind := domain.ErrTransferRejected
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		kind = domain.ErrGatewayUnavailable
	}
	return fmt.Errorf("%w: status %d: %s", kind, resp.StatusCode, detail)
}
