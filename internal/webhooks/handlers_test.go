package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/hundinet/hundi/internal/auth"
)

func setupHandlerRouter(t *testing.T, store Store, asUser string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := NewHandler(store, newTestDispatcher(store))
	r := gin.New()
	if asUser != "" {
		r.Use(func(c *gin.Context) {
			c.Set(auth.ContextKeyUserID, asUser)
		})
	}
	h.RegisterRoutes(&r.RouterGroup)
	return r
}

func postWebhook(r *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", "/webhooks", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateWebhook_RequiresAuth(t *testing.T) {
	r := setupHandlerRouter(t, NewMemoryStore(), "")

	w := postWebhook(r, map[string]any{
		"url":    "https://93.184.216.34/hook",
		"events": []string{string(EventTradeCompleted)},
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateWebhook_RejectsInternalDestinations(t *testing.T) {
	store := NewMemoryStore()
	r := setupHandlerRouter(t, store, "usr_a")

	for _, url := range []string{
		"http://127.0.0.1/hook",
		"http://10.0.0.5/hook",
		"http://169.254.169.254/latest/meta-data",
		"http://localhost/hook",
	} {
		w := postWebhook(r, map[string]any{
			"url":    url,
			"events": []string{string(EventTradeCompleted)},
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", url, w.Code)
		}
		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["error"] != "invalid_url" {
			t.Errorf("%s: expected invalid_url error, got %v", url, resp["error"])
		}
	}

	subs, _ := store.GetByUser(context.Background(), "usr_a")
	if len(subs) != 0 {
		t.Fatalf("no subscription should be stored, got %d", len(subs))
	}
}

func TestCreateWebhook_AcceptsPublicDestination(t *testing.T) {
	store := NewMemoryStore()
	r := setupHandlerRouter(t, store, "usr_a")

	w := postWebhook(r, map[string]any{
		"url":    "https://93.184.216.34/hook",
		"events": []string{string(EventTradeCompleted), string(EventTradeDisputed)},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Webhook struct {
			ID string `json:"id"`
		} `json:"webhook"`
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Secret == "" {
		t.Error("secret should be returned once at creation")
	}

	subs, _ := store.GetByUser(context.Background(), "usr_a")
	if len(subs) != 1 || subs[0].ID != resp.Webhook.ID {
		t.Fatalf("expected stored subscription %s, got %v", resp.Webhook.ID, subs)
	}
}

func TestCreateWebhook_RejectsUnknownEvent(t *testing.T) {
	r := setupHandlerRouter(t, NewMemoryStore(), "usr_a")

	w := postWebhook(r, map[string]any{
		"url":    "https://93.184.216.34/hook",
		"events": []string{"trade.teleported"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
