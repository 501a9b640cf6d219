package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"partsdesk/internal/domain"
	"partsdesk/internal/service"
	"partsdesk/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded(zap.NewNop())
	svc := service.New(repo, nil, 0, 5, zap.NewNop())
	auth := NewAuthManager("test-secret-key", time.Hour, repo, nil)

	return New(svc, auth, "*", nil)
}

func loginAs(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	return payload.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (status %d)", err, rec.Code)
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeBody[errorBody](t, rec); body.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %+v", body)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_SearchAndPaging(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products?search=brake&limit=1&page=2", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeBody[domain.ProductSearchResponse](t, rec)
	if resp.Pagination.Total != 2 || resp.Pagination.TotalPages != 2 || resp.Pagination.Page != 2 {
		t.Fatalf("unexpected pagination %+v", resp.Pagination)
	}
	if len(resp.Products) != 1 {
		t.Fatalf("expected one product on page 2, got %d", len(resp.Products))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products?status=out_of_stock", token, nil)
	resp = decodeBody[domain.ProductSearchResponse](t, rec)
	if len(resp.Products) != 1 || resp.Products[0].ID != "prd-brake-shoe-01" {
		t.Fatalf("expected the brake shoe to be out of stock, got %+v", resp.Products)
	}
}

func TestCreateTransactionIdempotencyHeader(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	payload := domain.TransactionCreateRequest{
		Items:    []domain.TransactionLine{{ProductID: "prd-oil-filter-01", Count: 2}},
		Discount: 0.5,
		Status:   domain.TxStatusCompleted,
		Partsman: "rudi",
	}
	submit := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "idem-handler-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := submit()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", first.Code, first.Body.String())
	}
	created := decodeBody[domain.TransactionResponse](t, first)
	if created.Transaction.TotalCents != 3200 || created.Transaction.PartsmanID != "rudi" {
		t.Fatalf("unexpected transaction %+v", created.Transaction)
	}

	second := submit()
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", second.Code)
	}
	dup := decodeBody[domain.TransactionResponse](t, second)
	if !dup.Duplicate || dup.Transaction.ID != created.Transaction.ID {
		t.Fatalf("expected duplicate of %s, got %+v", created.Transaction.ID, dup)
	}
}

func TestCreateTransactionOversellIsConflict(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.TransactionCreateRequest{
		Items:  []domain.TransactionLine{{ProductID: "prd-battery-01", Count: 4}},
		Status: domain.TxStatusReserved,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeBody[errorBody](t, rec); body.Code != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock, got %+v", body)
	}
}

func TestTransactionLifecycleEndpoints(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.TransactionCreateRequest{
		Items:  []domain.TransactionLine{{ProductID: "prd-spark-plug-01", Count: 1}},
		Status: domain.TxStatusReserved,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("reserve failed: %d %s", rec.Code, rec.Body.String())
	}
	tx := decodeBody[domain.TransactionResponse](t, rec).Transaction

	completed := domain.TxStatusCompleted
	rec = doJSON(t, handler, http.MethodPut, "/api/v1/transactions/"+tx.ID, token, domain.TransactionUpdateRequest{
		Items:  []domain.TransactionLine{{ProductID: "prd-spark-plug-01", Count: 3}},
		Status: &completed,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("process failed: %d %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[domain.TransactionResponse](t, rec).Transaction
	if updated.Status != domain.TxStatusCompleted || updated.TotalCents != 13500 {
		t.Fatalf("unexpected processed transaction %+v", updated)
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/transactions/cancel/"+tx.ID, token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a completed sale, got %d", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); body.Code != "illegal_transition" {
		t.Fatalf("expected illegal_transition, got %+v", body)
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/transactions/return/"+tx.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("return failed: %d %s", rec.Code, rec.Body.String())
	}
	changed := decodeBody[domain.StatusChangeResponse](t, rec)
	if changed.Status != "success" || changed.Transaction == nil || changed.Transaction.Status != domain.TxStatusReturned {
		t.Fatalf("unexpected return response %+v", changed)
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/transactions/return/tx-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown transaction, got %d", rec.Code)
	}
}

func TestMyTransactionsAndStatistics(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := loginAs(t, handler, "cashier", "cashier123")
	admin := loginAs(t, handler, "admin", "admin123")

	for _, token := range []string{cashier, admin} {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.TransactionCreateRequest{
			Items:  []domain.TransactionLine{{ProductID: "prd-headlamp-01", Count: 1}},
			Status: domain.TxStatusCompleted,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/transactions/my-transactions?search=headlamp", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d %s", rec.Code, rec.Body.String())
	}
	mine := decodeBody[domain.TransactionListResponse](t, rec)
	if mine.Pagination.Total != 1 || mine.Data[0].CashierID != "cashier" {
		t.Fatalf("expected only the cashier's sale, got %+v", mine)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/my-transactions", admin, nil)
	all := decodeBody[domain.TransactionListResponse](t, rec)
	if all.Pagination.Total != 2 {
		t.Fatalf("expected admin to see 2 sales, got %d", all.Pagination.Total)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/statistics", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics failed: %d %s", rec.Code, rec.Body.String())
	}
	stats := decodeBody[domain.TransactionStatistics](t, rec)
	if stats.Today.TransactionCount != 1 || stats.Today.TotalCents != 3900 {
		t.Fatalf("unexpected today stats %+v", stats.Today)
	}
}

func TestSalesStatisticsEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := loginAs(t, handler, "cashier", "cashier123")
	admin := loginAs(t, handler, "admin", "admin123")

	for _, token := range []string{cashier, admin} {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.TransactionCreateRequest{
			Items:  []domain.TransactionLine{{ProductID: "prd-headlamp-01", Count: 1}},
			Status: domain.TxStatusCompleted,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
		}
	}

	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/transactions/sales-statistics", cashier, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/transactions/sales-statistics", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/transactions/sales-statistics", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sales statistics failed: %d %s", rec.Code, rec.Body.String())
	}
	stats := decodeBody[domain.SalesStatistics](t, rec)
	if stats.TransactionCount != 2 || stats.TotalIncomeCents != 7800 {
		t.Fatalf("expected both sales in the store totals, got %+v", stats)
	}
	if len(stats.DailySales) != 7 || len(stats.WeeklySales) != 4 || len(stats.MonthlySales) != 12 {
		t.Fatalf("unexpected series lengths %d/%d/%d", len(stats.DailySales), len(stats.WeeklySales), len(stats.MonthlySales))
	}
	if len(stats.TopSellingProducts) != 1 || stats.TopSellingProducts[0].ProductID != "prd-headlamp-01" || stats.TopSellingProducts[0].Percentage != 100 {
		t.Fatalf("unexpected top sellers %+v", stats.TopSellingProducts)
	}
}

func TestProductAdministrationRequiresAdmin(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := loginAs(t, handler, "cashier", "cashier123")
	admin := loginAs(t, handler, "admin", "admin123")

	product := domain.ProductCreateRequest{Name: "Rear Shock", PartNumber: "rs-9001", Brand: "KYB", PriceCents: 45000, QuantityRemaining: 2}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", cashier, product); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", admin, product)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product failed: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[map[string]domain.Product](t, rec)["product"]
	if created.PartNumber != "RS-9001" || created.Status != domain.ProductStatusLowInStock {
		t.Fatalf("unexpected product %+v", created)
	}

	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", admin, product); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate part number, got %d", rec.Code)
	}

	if rec := doJSON(t, handler, http.MethodDelete, "/api/v1/products/"+created.ID, admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete failed: %d %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, handler, http.MethodDelete, "/api/v1/products/"+created.ID, admin, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", rec.Code)
	}
}

func TestUsersEndpoints(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := loginAs(t, handler, "cashier", "cashier123")
	admin := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users?role=partsman", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list users failed: %d %s", rec.Code, rec.Body.String())
	}
	list := decodeBody[domain.UserListResponse](t, rec)
	if len(list.Users) != 2 || list.Users[0].Username != "rudi" || list.Users[1].Username != "sari" {
		t.Fatalf("unexpected partsmen %+v", list.Users)
	}

	newUser := domain.UserCreateRequest{Username: "joko", Name: "Joko", Password: "joko1234", Role: domain.RolePartsman}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", cashier, newUser); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier creating users, got %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", admin, newUser); rec.Code != http.StatusCreated {
		t.Fatalf("create user failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users?role=partsman", cashier, nil)
	if list := decodeBody[domain.UserListResponse](t, rec); len(list.Users) != 3 {
		t.Fatalf("expected 3 partsmen after create, got %d", len(list.Users))
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); body.Code != "not_found" {
		t.Fatalf("expected not_found code, got %+v", body)
	}
}
