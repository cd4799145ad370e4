package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"donat/internal/core"
)

// CryptoClient talks to the crypto invoice provider. Invoices there live in
// active/paid/expired states; those map to pending/settled/failed at this
// boundary.
type CryptoClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewCryptoClient(baseURL, token string) *CryptoClient {
	return &CryptoClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *CryptoClient) Kind() core.Provider { return core.ProviderCrypto }

type cryptoInvoice struct {
	InvoiceID  int64  `json:"invoice_id"`
	Status     string `json:"status"`
	PayURL     string `json:"pay_url"`
	Asset      string `json:"asset"`
	PayAddress string `json:"pay_address"`
}

type cryptoEnvelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

func (c *CryptoClient) CreateIntent(ctx context.Context, amount core.Money, description string) (Intent, error) {
	payload := map[string]any{
		"currency_type": "fiat",
		"fiat":          "RUB",
		"amount":        fmt.Sprintf("%.2f", amount.Rubles()),
		"description":   description,
	}

	var inv cryptoInvoice
	if err := c.call(ctx, http.MethodPost, "/api/createInvoice", payload, &inv); err != nil {
		return Intent{}, &ProviderError{Provider: c.Kind(), Op: "create intent", Err: err}
	}
	if inv.InvoiceID == 0 {
		return Intent{}, &ProviderError{Provider: c.Kind(), Op: "create intent",
			Err: fmt.Errorf("provider returned no invoice id")}
	}

	slog.InfoContext(ctx, "Crypto invoice created",
		"invoice_id", inv.InvoiceID,
		"amount_kopecks", amount.Kopecks,
		"asset", inv.Asset)

	return Intent{
		ProviderID:        fmt.Sprintf("CRYPTO_%d", inv.InvoiceID),
		RedirectURL:       inv.PayURL,
		SettlementAddress: inv.PayAddress,
		Currency:          inv.Asset,
		Status:            normalizeCryptoStatus(inv.Status),
	}, nil
}

func (c *CryptoClient) CheckStatus(ctx context.Context, providerID string) (StatusResult, error) {
	var invoiceID int64
	if _, err := fmt.Sscanf(providerID, "CRYPTO_%d", &invoiceID); err != nil {
		return StatusResult{}, &ProviderError{Provider: c.Kind(), Op: "check status",
			Err: fmt.Errorf("malformed provider reference %q", providerID)}
	}

	q := url.Values{"invoice_ids": {fmt.Sprintf("%d", invoiceID)}}
	var result struct {
		Items []cryptoInvoice `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/getInvoices?"+q.Encode(), nil, &result); err != nil {
		return StatusResult{}, &ProviderError{Provider: c.Kind(), Op: "check status", Err: err}
	}
	if len(result.Items) == 0 {
		return StatusResult{}, &ProviderError{Provider: c.Kind(), Op: "check status",
			Err: fmt.Errorf("invoice %d not found at provider", invoiceID)}
	}

	inv := result.Items[0]
	return StatusResult{
		Status:            normalizeCryptoStatus(inv.Status),
		RedirectURL:       inv.PayURL,
		SettlementAddress: inv.PayAddress,
	}, nil
}

func normalizeCryptoStatus(s string) IntentStatus {
	switch s {
	case "paid":
		return IntentSettled
	case "expired":
		return IntentFailed
	default:
		// "active" and anything the provider adds later stay pending; a
		// pending poll is always safe to repeat.
		return IntentPending
	}
}

func (c *CryptoClient) call(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	var env cryptoEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	if !env.OK {
		return fmt.Errorf("provider error %d (%s)", env.Error.Code, env.Error.Name)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode provider result: %w", err)
	}
	return nil
}
