package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"donat/internal/core"
)

// WalletClient talks to the wallet-style payment gateway (card/wallet
// checkout with a redirect URL). The gateway's own status vocabulary is
// success/pending/error; it is mapped to the normalized enum here and
// nowhere else.
type WalletClient struct {
	baseURL   string
	apiKey    string
	returnURL string
	http      *http.Client
}

func NewWalletClient(baseURL, apiKey, returnURL string) *WalletClient {
	return &WalletClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		returnURL: returnURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *WalletClient) Kind() core.Provider { return core.ProviderWallet }

type walletPaymentResponse struct {
	Status     string `json:"status"`
	PaymentID  string `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
	Error      string `json:"error"`
}

func (c *WalletClient) CreateIntent(ctx context.Context, amount core.Money, description string) (Intent, error) {
	payload := map[string]any{
		"amount":      amount.Kopecks,
		"currency":    "RUB",
		"description": description,
		"return_url":  c.returnURL,
	}

	var resp walletPaymentResponse
	if err := c.post(ctx, "/payments", payload, &resp); err != nil {
		return Intent{}, &ProviderError{Provider: c.Kind(), Op: "create intent", Err: err}
	}
	if resp.Status == "error" || resp.PaymentID == "" {
		return Intent{}, &ProviderError{Provider: c.Kind(), Op: "create intent",
			Err: fmt.Errorf("gateway rejected payment: %s", resp.Error)}
	}

	slog.InfoContext(ctx, "Wallet payment intent created",
		"payment_id", resp.PaymentID,
		"amount_kopecks", amount.Kopecks)

	return Intent{
		ProviderID:  resp.PaymentID,
		RedirectURL: resp.PaymentURL,
		Status:      IntentPending,
	}, nil
}

func (c *WalletClient) CheckStatus(ctx context.Context, providerID string) (StatusResult, error) {
	var resp walletPaymentResponse
	if err := c.get(ctx, "/payments/"+providerID, &resp); err != nil {
		return StatusResult{}, &ProviderError{Provider: c.Kind(), Op: "check status", Err: err}
	}

	switch resp.Status {
	case "success":
		return StatusResult{Status: IntentSettled}, nil
	case "pending":
		return StatusResult{Status: IntentPending, RedirectURL: resp.PaymentURL}, nil
	case "error":
		return StatusResult{Status: IntentFailed}, nil
	default:
		return StatusResult{}, &ProviderError{Provider: c.Kind(), Op: "check status",
			Err: fmt.Errorf("unexpected gateway status %q", resp.Status)}
	}
}

func (c *WalletClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req, out)
}

func (c *WalletClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req, out)
}

func (c *WalletClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
