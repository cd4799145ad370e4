package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"donat/internal/core"
)

func TestGatewayProviderLookup(t *testing.T) {
	wallet := NewWalletClient("http://example.invalid", "key", "http://example.invalid/thanks")
	g := NewGateway(wallet)

	p, err := g.Provider(core.ProviderWallet)
	if err != nil {
		t.Fatalf("lookup wallet: %v", err)
	}
	if p.Kind() != core.ProviderWallet {
		t.Fatalf("wrong provider kind %s", p.Kind())
	}

	if _, err := g.Provider(core.ProviderCrypto); !errors.Is(err, core.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestWalletCreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing auth header, got %q", got)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["amount"] != float64(50000) {
			t.Errorf("amount = %v, want 50000", req["amount"])
		}
		json.NewEncoder(w).Encode(walletPaymentResponse{
			Status:     "success",
			PaymentID:  "pay_abc",
			PaymentURL: "https://wallet.example/checkout/pay_abc",
		})
	}))
	defer srv.Close()

	c := NewWalletClient(srv.URL, "secret", "https://donat.example/thanks")
	intent, err := c.CreateIntent(context.Background(), core.FromMajor(500), "donation")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ProviderID != "pay_abc" || intent.Status != IntentPending {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if intent.RedirectURL == "" {
		t.Fatal("expected redirect url")
	}
}

func TestWalletCreateIntentGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(walletPaymentResponse{Status: "error", Error: "limit exceeded"})
	}))
	defer srv.Close()

	c := NewWalletClient(srv.URL, "secret", "")
	_, err := c.CreateIntent(context.Background(), core.FromMajor(500), "donation")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Provider != core.ProviderWallet {
		t.Fatalf("wrong provider in error: %s", perr.Provider)
	}
}

func TestWalletCheckStatusMapping(t *testing.T) {
	cases := []struct {
		gatewayStatus string
		want          IntentStatus
	}{
		{"success", IntentSettled},
		{"pending", IntentPending},
		{"error", IntentFailed},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(walletPaymentResponse{Status: tc.gatewayStatus, PaymentID: "pay_1"})
		}))
		c := NewWalletClient(srv.URL, "k", "")
		res, err := c.CheckStatus(context.Background(), "pay_1")
		srv.Close()
		if err != nil {
			t.Fatalf("status %q: %v", tc.gatewayStatus, err)
		}
		if res.Status != tc.want {
			t.Fatalf("status %q mapped to %s, want %s", tc.gatewayStatus, res.Status, tc.want)
		}
	}
}

func TestWalletCheckStatusUnknownVocabulary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(walletPaymentResponse{Status: "refunded"})
	}))
	defer srv.Close()

	c := NewWalletClient(srv.URL, "k", "")
	if _, err := c.CheckStatus(context.Background(), "pay_1"); err == nil {
		t.Fatal("expected error for unparseable status")
	}
}

func cryptoEnvelopeJSON(t *testing.T, result any) []byte {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(map[string]any{"ok": true, "result": json.RawMessage(raw)})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCryptoCreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/createInvoice" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Crypto-Pay-API-Token"); got != "tok" {
			t.Errorf("missing token header, got %q", got)
		}
		w.Write(cryptoEnvelopeJSON(t, cryptoInvoice{
			InvoiceID:  915,
			Status:     "active",
			PayURL:     "https://t.me/CryptoBot?start=IVe915",
			Asset:      "USDT",
			PayAddress: "TXYZabc",
		}))
	}))
	defer srv.Close()

	c := NewCryptoClient(srv.URL, "tok")
	intent, err := c.CreateIntent(context.Background(), core.FromMajor(500), "donation")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ProviderID != "CRYPTO_915" {
		t.Fatalf("provider id = %q", intent.ProviderID)
	}
	if intent.Status != IntentPending || intent.SettlementAddress != "TXYZabc" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestCryptoCheckStatusMapping(t *testing.T) {
	cases := []struct {
		invoiceStatus string
		want          IntentStatus
	}{
		{"active", IntentPending},
		{"paid", IntentSettled},
		{"expired", IntentFailed},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(cryptoEnvelopeJSON(t, map[string]any{
				"items": []cryptoInvoice{{InvoiceID: 915, Status: tc.invoiceStatus}},
			}))
		}))
		c := NewCryptoClient(srv.URL, "tok")
		res, err := c.CheckStatus(context.Background(), "CRYPTO_915")
		srv.Close()
		if err != nil {
			t.Fatalf("status %q: %v", tc.invoiceStatus, err)
		}
		if res.Status != tc.want {
			t.Fatalf("status %q mapped to %s, want %s", tc.invoiceStatus, res.Status, tc.want)
		}
	}
}

func TestCryptoCheckStatusMalformedReference(t *testing.T) {
	c := NewCryptoClient("http://example.invalid", "tok")
	if _, err := c.CheckStatus(context.Background(), "pay_notcrypto"); err == nil {
		t.Fatal("expected error for malformed reference")
	}
}
