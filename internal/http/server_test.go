package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"donat/internal/core"
	"donat/internal/ledger/memory"
	"donat/internal/payment"
	"donat/internal/services"
)

type scriptedProvider struct {
	kind      core.Provider
	intent    payment.Intent
	intentErr error
	status    payment.StatusResult
}

func (p *scriptedProvider) Kind() core.Provider { return p.kind }

func (p *scriptedProvider) CreateIntent(context.Context, core.Money, string) (payment.Intent, error) {
	return p.intent, p.intentErr
}

func (p *scriptedProvider) CheckStatus(context.Context, string) (payment.StatusResult, error) {
	return p.status, nil
}

func newTestServer(providers ...payment.Provider) *Server {
	svc := services.NewDonationService(memory.New(), payment.NewGateway(providers...), nil)
	return NewServer(":0", svc)
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeDonation(t *testing.T, rec *httptest.ResponseRecorder) donationResponse {
	t.Helper()
	var body donationResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestInitDonationBoundaries(t *testing.T) {
	tests := []struct {
		amount     float64
		wantStatus int
	}{
		{9, http.StatusBadRequest},
		{10, http.StatusOK},
		{100000, http.StatusOK},
		{100001, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("amount_%v", tt.amount), func(t *testing.T) {
			wallet := &scriptedProvider{
				kind:   core.ProviderWallet,
				intent: payment.Intent{ProviderID: fmt.Sprintf("pay_%v", tt.amount), Status: payment.IntentPending},
			}
			s := newTestServer(wallet)
			defer s.Shutdown(context.Background())

			rec := postJSON(t, s, "/api/donate/init", initDonationRequest{
				Amount:   tt.amount,
				Provider: "wallet",
			})
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body)
			}
		})
	}
}

func TestInitDonationReturnsPaymentReference(t *testing.T) {
	wallet := &scriptedProvider{
		kind: core.ProviderWallet,
		intent: payment.Intent{
			ProviderID:  "pay_ref",
			RedirectURL: "https://wallet.example/checkout/pay_ref",
			Status:      payment.IntentPending,
		},
	}
	s := newTestServer(wallet)
	defer s.Shutdown(context.Background())

	rec := postJSON(t, s, "/api/donate/init", initDonationRequest{
		Amount:   500,
		Provider: "wallet",
		Name:     "anna",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	body := decodeDonation(t, rec)
	if body.PaymentID != "pay_ref" {
		t.Errorf("paymentId = %q", body.PaymentID)
	}
	if body.RedirectURL == "" {
		t.Error("expected redirect url")
	}
	if body.Amount != 50000 {
		t.Errorf("amountKopecks = %d, want 50000", body.Amount)
	}
	if body.Name != "anna" {
		t.Errorf("name = %q", body.Name)
	}
}

func TestInitDonationGatewayFailureLeavesNoRecord(t *testing.T) {
	wallet := &scriptedProvider{
		kind:      core.ProviderWallet,
		intentErr: &payment.ProviderError{Provider: core.ProviderWallet, Op: "create intent", Err: errors.New("down")},
	}
	s := newTestServer(wallet)
	defer s.Shutdown(context.Background())

	rec := postJSON(t, s, "/api/donate/init", initDonationRequest{Amount: 500, Provider: "wallet"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	// The aborted donation must not be pollable afterwards.
	rec = get(t, s, "/api/donate/status/pay_ref")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status poll after failed init = %d, want 404", rec.Code)
	}
}

func TestInitDonationUnknownProvider(t *testing.T) {
	s := newTestServer()
	defer s.Shutdown(context.Background())

	rec := postJSON(t, s, "/api/donate/init", initDonationRequest{Amount: 500, Provider: "paypal"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateInfo(t *testing.T) {
	wallet := &scriptedProvider{
		kind:   core.ProviderWallet,
		intent: payment.Intent{ProviderID: "pay_upd", Status: payment.IntentPending},
	}
	s := newTestServer(wallet)
	defer s.Shutdown(context.Background())

	if rec := postJSON(t, s, "/api/donate/init", initDonationRequest{Amount: 500, Provider: "wallet"}); rec.Code != http.StatusOK {
		t.Fatalf("init failed: %d", rec.Code)
	}

	rec := postJSON(t, s, "/api/donate/update-info", updateInfoRequest{
		PaymentID: "pay_upd",
		Name:      "bob",
		Note:      "hi",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeDonation(t, rec)
	if body.Name != "bob" || body.Note != "hi" {
		t.Fatalf("metadata not attached: %+v", body)
	}

	// Unknown payment reference.
	rec = postJSON(t, s, "/api/donate/update-info", updateInfoRequest{PaymentID: "pay_ghost", Name: "x"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	// Missing payment reference.
	rec = postJSON(t, s, "/api/donate/update-info", updateInfoRequest{Name: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatusSettlesAndFeedsStats(t *testing.T) {
	wallet := &scriptedProvider{
		kind:   core.ProviderWallet,
		intent: payment.Intent{ProviderID: "pay_done", Status: payment.IntentPending},
		status: payment.StatusResult{Status: payment.IntentSettled},
	}
	s := newTestServer(wallet)
	defer s.Shutdown(context.Background())

	if rec := postJSON(t, s, "/api/donate/init", initDonationRequest{Amount: 500, Provider: "wallet"}); rec.Code != http.StatusOK {
		t.Fatalf("init failed: %d", rec.Code)
	}

	// Poll twice; settlement must count once.
	for i := 0; i < 2; i++ {
		rec := get(t, s, "/api/donate/status/pay_done")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if body := decodeDonation(t, rec); body.Status != "completed" {
			t.Fatalf("donation status = %q, want completed", body.Status)
		}
	}

	rec := get(t, s, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalCount != 1 || stats.TotalAmount != 50000 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats.Weekly) != 1 {
		t.Fatalf("weekly entries = %d, want 1", len(stats.Weekly))
	}
}

func TestStatusPendingReturnsCheckoutLink(t *testing.T) {
	wallet := &scriptedProvider{
		kind:   core.ProviderWallet,
		intent: payment.Intent{ProviderID: "pay_wait", Status: payment.IntentPending},
		status: payment.StatusResult{
			Status:      payment.IntentPending,
			RedirectURL: "https://wallet.example/checkout/pay_wait",
		},
	}
	s := newTestServer(wallet)
	defer s.Shutdown(context.Background())

	if rec := postJSON(t, s, "/api/donate/init", initDonationRequest{Amount: 500, Provider: "wallet"}); rec.Code != http.StatusOK {
		t.Fatalf("init failed: %d", rec.Code)
	}

	rec := get(t, s, "/api/donate/status/pay_wait")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeDonation(t, rec)
	if body.Status != "pending" {
		t.Fatalf("donation status = %q, want pending", body.Status)
	}
	if body.RedirectURL != "https://wallet.example/checkout/pay_wait" {
		t.Fatalf("redirectUrl = %q, want the checkout link back", body.RedirectURL)
	}
}

func TestStatusUnknownPayment(t *testing.T) {
	s := newTestServer()
	defer s.Shutdown(context.Background())

	if rec := get(t, s, "/api/donate/status/pay_missing"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec := get(t, s, "/api/donate/status/"); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer()
	defer s.Shutdown(context.Background())

	if rec := get(t, s, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := get(t, s, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer()
	defer s.Shutdown(context.Background())

	rec := get(t, s, "/api/stats")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}
