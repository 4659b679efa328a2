package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hundinet/hundi/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config backed by in-memory stores, with
// settlement disabled and no rate limiting.
func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "development",
		LogLevel:           "error",
		PaymentWindow:      30 * time.Minute,
		OrderTTL:           24 * time.Hour,
		ExpiryScanInterval: 5 * time.Second,
		OrderScanInterval:  time.Minute,
		AdminSecret:        "test-admin-secret",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// registerUser creates a trader and returns (userID, apiKey).
func registerUser(t *testing.T, s *Server, name string) (string, string) {
	t.Helper()
	w := doJSON(t, s, "POST", "/v1/users", `{"displayName":"`+name+`"}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("registration failed: %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad registration body: %v", err)
	}
	if resp.User.ID == "" || resp.APIKey == "" {
		t.Fatalf("incomplete registration response: %s", w.Body.String())
	}
	return resp.User.ID, resp.APIKey
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/live", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Server hasn't called Run() so ready is false
	w := doJSON(t, s, "GET", "/health/ready", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/users",
		"GET:/v1/users/:id",
		"GET:/v1/users/:id/trust",
		"GET:/v1/trust/tiers",
		"GET:/v1/orders",
		"POST:/v1/orders",
		"DELETE:/v1/orders/:id",
		"GET:/v1/trades/:id",
		"POST:/v1/trades",
		"POST:/v1/trades/:id/confirm",
		"POST:/v1/trades/:id/cancel",
		"POST:/v1/trades/:id/dispute",
		"GET:/v1/trades/:id/escrow",
		"GET:/v1/trades/:id/messages",
		"POST:/v1/trades/:id/messages",
		"GET:/v1/disputes/:id",
		"POST:/v1/disputes/:id/resolve",
		"POST:/v1/webhooks",
		"GET:/v1/admin/escrows",
		"POST:/v1/admin/reconcile",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Route %s not registered", e)
		}
	}
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["name"] != "Hundi" {
		t.Errorf("Expected name 'Hundi', got %v", resp["name"])
	}
	if resp["settlement"] != false {
		t.Errorf("Expected settlement disabled, got %v", resp["settlement"])
	}
}

// ---------------------------------------------------------------------------
// Auth gating
// ---------------------------------------------------------------------------

func TestProtectedRouteRequiresAPIKey(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/orders", `{}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestAdminRouteRequiresSecret(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/v1/admin/escrows", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without secret, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/v1/admin/escrows", nil)
	req.Header.Set("X-Admin-Secret", "test-admin-secret")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with secret, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// User registration
// ---------------------------------------------------------------------------

func TestUserRegistration(t *testing.T) {
	s := newTestServer(t)

	id, key := registerUser(t, s, "TestTrader")
	if !strings.HasPrefix(id, "usr_") {
		t.Errorf("user ID = %q, want usr_ prefix", id)
	}

	// The issued key authenticates
	w := doJSON(t, s, "GET", "/v1/auth/me", "", key)
	if w.Code != http.StatusOK {
		t.Errorf("auth/me with fresh key: %d: %s", w.Code, w.Body.String())
	}
}

func TestUserRegistration_RequiresDisplayName(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/users", `{"displayName":""}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end trade lifecycle over HTTP
// ---------------------------------------------------------------------------

func TestTradeLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	sellerID, sellerKey := registerUser(t, s, "Seller")
	_, buyerKey := registerUser(t, s, "Buyer")

	// Seller places a resting sell order.
	orderBody := `{"side":"sell","amountCrypto":"100","amountFiat":"8300","fiatCurrency":"INR","paymentMethods":["upi"]}`
	w := doJSON(t, s, "POST", "/v1/orders", orderBody, sellerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("sell order failed: %d: %s", w.Code, w.Body.String())
	}

	// Buyer's matching order fires a trade immediately.
	buyBody := `{"side":"buy","amountCrypto":"100","amountFiat":"8300","fiatCurrency":"INR","paymentMethods":["upi"]}`
	w = doJSON(t, s, "POST", "/v1/orders", buyBody, buyerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("buy order failed: %d: %s", w.Code, w.Body.String())
	}
	var placed struct {
		Matched bool `json:"matched"`
		Trade   struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"trade"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &placed); err != nil {
		t.Fatalf("bad placement body: %v", err)
	}
	if !placed.Matched || placed.Trade.ID == "" {
		t.Fatalf("orders did not match: %s", w.Body.String())
	}
	if placed.Trade.Status != "payment_pending" {
		t.Errorf("trade status = %s, want payment_pending", placed.Trade.Status)
	}
	tradeID := placed.Trade.ID

	// Escrow is locked for the full amount.
	w = doJSON(t, s, "GET", "/v1/trades/"+tradeID+"/escrow", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("escrow lookup failed: %d", w.Code)
	}
	var escResp struct {
		Escrow struct {
			State string `json:"state"`
		} `json:"escrow"`
	}
	json.Unmarshal(w.Body.Bytes(), &escResp)
	if escResp.Escrow.State != "locked" {
		t.Errorf("escrow state = %s, want locked", escResp.Escrow.State)
	}

	// Buyer cannot confirm payment; only the seller may.
	w = doJSON(t, s, "POST", "/v1/trades/"+tradeID+"/confirm", "", buyerKey)
	if w.Code != http.StatusForbidden {
		t.Errorf("buyer confirm: %d, want 403", w.Code)
	}

	// Seller confirms; without a settler the trade completes synchronously.
	w = doJSON(t, s, "POST", "/v1/trades/"+tradeID+"/confirm", "", sellerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("seller confirm failed: %d: %s", w.Code, w.Body.String())
	}
	var confirmResp struct {
		Trade struct {
			Status string `json:"status"`
		} `json:"trade"`
	}
	json.Unmarshal(w.Body.Bytes(), &confirmResp)
	if confirmResp.Trade.Status != "completed" {
		t.Errorf("trade status = %s, want completed", confirmResp.Trade.Status)
	}

	// Escrow released to the buyer.
	w = doJSON(t, s, "GET", "/v1/trades/"+tradeID+"/escrow", "", "")
	json.Unmarshal(w.Body.Bytes(), &escResp)
	if escResp.Escrow.State != "released" {
		t.Errorf("escrow state = %s, want released", escResp.Escrow.State)
	}

	// On-time completion bumps the seller's trust score.
	w = doJSON(t, s, "GET", "/v1/users/"+sellerID+"/trust", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("trust lookup failed: %d", w.Code)
	}
	var trustResp struct {
		Trust struct {
			Score int `json:"score"`
		} `json:"trust"`
	}
	json.Unmarshal(w.Body.Bytes(), &trustResp)
	if trustResp.Trust.Score != 52 {
		t.Errorf("seller trust score = %d, want 52", trustResp.Trust.Score)
	}

	// Trade chat carries the system open message.
	w = doJSON(t, s, "GET", "/v1/trades/"+tradeID+"/messages", "", buyerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("messages lookup failed: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "system") {
		t.Errorf("expected a system message in chat: %s", w.Body.String())
	}
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
