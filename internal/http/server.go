// Package http exposes the donation API: intake, donor info, status polling
// and statistics.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"donat/internal/core"
	applog "donat/internal/log"
	"donat/internal/payment"
	"donat/internal/services"
)

type Server struct {
	http.Server
	donations   *services.DonationService
	logger      *applog.Logger
	rateLimiter *rateLimiter

	shutdownOnce sync.Once
}

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, donations *services.DonationService) *Server {
	mux := http.NewServeMux()
	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: applog.ComponentHTTP,
	})

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: applog.Middleware(logger)(mux),
		},
		donations:   donations,
		logger:      logger,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)
	mux.HandleFunc("/api/stats", s.withSecurityHeaders(s.handleStats))
	mux.HandleFunc("/api/donate/init", s.withSecurityHeaders(s.handleInitDonation))
	mux.HandleFunc("/api/donate/update-info", s.withSecurityHeaders(s.handleUpdateInfo))
	mux.HandleFunc("/api/donate/status/", s.withSecurityHeaders(s.handleDonationStatus))

	return s
}

// Shutdown stops the cleanup goroutines and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request
// logging to responses.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		s.logger.InfoContext(ctx, "Request started",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldClientIP, clientIP,
			applog.FieldUserAgent, r.Header.Get("User-Agent"))

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			s.logger.WarnContext(ctx, "Rate limit exceeded",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		s.logger.InfoContext(ctx, "Request completed",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.statusCode,
			applog.FieldDuration, duration.Milliseconds(),
			applog.FieldClientIP, clientIP)
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type initDonationRequest struct {
	Amount   float64 `json:"amount"`
	Provider string  `json:"provider"`
	Name     string  `json:"name"`
	Note     string  `json:"note"`
}

type donationResponse struct {
	PaymentID     string `json:"paymentId"`
	Amount        int64  `json:"amountKopecks"`
	Name          string `json:"name,omitempty"`
	Note          string `json:"note,omitempty"`
	Provider      string `json:"provider"`
	Status        string `json:"status"`
	CryptoAddress string `json:"cryptoAddress,omitempty"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
}

func toDonationResponse(d core.Donation, redirectURL string) donationResponse {
	return donationResponse{
		PaymentID:     d.PaymentID,
		Amount:        d.Amount.Kopecks,
		Name:          d.Name,
		Note:          d.Note,
		Provider:      string(d.Provider),
		Status:        string(d.Status),
		CryptoAddress: d.CryptoAddress,
		RedirectURL:   redirectURL,
	}
}

// handleInitDonation creates a payment intent and records the donation.
// Amount arrives in major units (rubles).
func (s *Server) handleInitDonation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req initDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount := core.Money{Kopecks: int64(math.Round(req.Amount * 100))}
	res, err := s.donations.Initiate(r.Context(), services.InitiateRequest{
		Amount:   amount,
		Source:   core.SourceWeb,
		Provider: core.Provider(req.Provider),
		Name:     req.Name,
		Note:     req.Note,
	})
	if err != nil {
		s.writeDonationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDonationResponse(res.Donation, res.RedirectURL))
}

type updateInfoRequest struct {
	PaymentID string `json:"paymentId"`
	Name      string `json:"name"`
	Note      string `json:"note"`
}

// handleUpdateInfo attaches donor name and note to an existing donation.
func (s *Server) handleUpdateInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req updateInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		writeError(w, http.StatusBadRequest, "paymentId is required")
		return
	}

	don, err := s.donations.AttachDonorInfo(r.Context(), req.PaymentID, req.Name, req.Note)
	if err != nil {
		s.writeDonationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDonationResponse(don, ""))
}

// handleDonationStatus polls the provider and settles the donation when the
// provider reports a terminal state.
func (s *Server) handleDonationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	paymentID := strings.TrimPrefix(r.URL.Path, "/api/donate/status/")
	if paymentID == "" || strings.Contains(paymentID, "/") {
		writeError(w, http.StatusBadRequest, "paymentId is required")
		return
	}

	res, err := s.donations.PollAndSettle(r.Context(), paymentID)
	if err != nil {
		s.writeDonationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDonationResponse(res.Donation, res.RedirectURL))
}

type statsResponse struct {
	TotalAmount   int64           `json:"totalAmount"`
	TotalCount    int64           `json:"totalCount"`
	AverageAmount int64           `json:"averageAmount"`
	Weekly        []dailyStatBody `json:"weekly"`
}

type dailyStatBody struct {
	Date        string `json:"date"`
	TotalAmount int64  `json:"totalAmount"`
	Count       int64  `json:"count"`
}

// handleStats returns overall and trailing-week statistics of completed
// donations. Amounts are reported in kopecks.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.donations.Stats(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Stats error", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}

	weekly, err := s.donations.WeeklyStats(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Weekly stats error", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}

	body := statsResponse{
		TotalAmount:   stats.TotalAmount,
		TotalCount:    stats.TotalCount,
		AverageAmount: stats.AverageAmount,
		Weekly:        make([]dailyStatBody, 0, len(weekly)),
	}
	for _, d := range weekly {
		body.Weekly = append(body.Weekly, dailyStatBody{
			Date:        d.Date.Format("2006-01-02"),
			TotalAmount: d.TotalAmount,
			Count:       d.Count,
		})
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeDonationError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *payment.ProviderError
	switch {
	case errors.Is(err, core.ErrAmountOutOfRange),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "donation not found")
	case errors.As(err, &perr):
		s.logger.ErrorContext(r.Context(), "Payment provider error",
			applog.FieldError, err,
			applog.FieldProvider, string(perr.Provider))
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Internal error",
			applog.FieldError, err,
			applog.FieldPath, r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
