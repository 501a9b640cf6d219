package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"partsdesk/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestCORSPreflightAllowsIdempotencyKey(t *testing.T) {
	base := newTestAPI(t)
	api := New(base.service, base.auth, "https://counter.example", nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/transactions", nil)
	req.Header.Set("Origin", "https://counter.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://counter.example" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}
	if got := strings.ToLower(res.Header().Get("Access-Control-Allow-Headers")); !strings.Contains(got, "idempotency-key") {
		t.Fatalf("expected Idempotency-Key to be allowed, got %q", got)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for too large body, got %d", res.Code)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader(`{"items":[],"tax":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	res := httptest.NewRecorder()

	api.writeServiceError(res, req, errors.New("pq: relation \"products\" does not exist"))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	var body errorBody
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "internal server error" || body.Code != "internal" {
		t.Fatalf("expected generic 500 body, got %+v", body)
	}
}

func TestParsePositiveCaps(t *testing.T) {
	if got := parsePositive("9999", 10, 100); got != 100 {
		t.Fatalf("expected capped limit 100, got %d", got)
	}
	if got := parsePositive("", 10, 100); got != 10 {
		t.Fatalf("expected fallback limit 10, got %d", got)
	}
	if got := parsePositive("invalid", 10, 100); got != 10 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
	if got := parsePositive("-3", 1, 0); got != 1 {
		t.Fatalf("expected fallback on negative input, got %d", got)
	}
}
