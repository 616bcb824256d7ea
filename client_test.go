package querysync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/huykn/querysync/api"
	"github.com/huykn/querysync/cache"
	"github.com/huykn/querysync/session"
)

func sessionUser() session.User {
	return session.User{ID: 7, Phone: "+99361234"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newBackend(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var balanceHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "tok-1",
			"user":  map[string]any{"id": 7, "phone": "+99361234"},
		})
	})
	mux.HandleFunc("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "bye"})
	})
	mux.HandleFunc("GET /money/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
			return
		}
		balanceHits.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"balance": "42.50"})
	})
	mux.HandleFunc("POST /money/convert", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Converted", "data": map[string]any{"ok": true}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &balanceHits
}

func TestNew(t *testing.T) {
	srv, _ := newBackend(t)
	cfg := validConfig()
	cfg.BaseURL = srv.URL

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	if client.API == nil || client.Cache == nil || client.Mutations == nil || client.Session == nil {
		t.Fatal("Client components should not be nil")
	}
	if client.Metrics != nil {
		t.Error("Metrics should be nil unless enabled")
	}
	if !client.Session.Loaded() {
		t.Error("Session should be rehydrated by New")
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.BaseURL = ""

	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewFillsZeroLocalCacheConfig(t *testing.T) {
	cfg := validConfig()
	cfg.LocalCacheConfig = LocalCacheConfig{}
	cfg.LocalCache = LocalCacheLFU

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()
}

func TestClientLoginQueryLogout(t *testing.T) {
	srv, balanceHits := newBackend(t)
	cfg := validConfig()
	cfg.BaseURL = srv.URL
	cfg.EnableMetrics = true

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if _, err := client.API.Login(ctx, api.LoginRequest{Phone: "+99361234", Password: "secret1"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		balance, err := client.API.Balance(ctx, false)
		if err != nil {
			t.Fatalf("Balance failed: %v", err)
		}
		if !balance.Balance.Equal(decimal.RequireFromString("42.5")) {
			t.Errorf("Unexpected balance %s", balance.Balance)
		}
	}
	if got := balanceHits.Load(); got != 1 {
		t.Errorf("Expected a single balance request, got %d", got)
	}

	stats := client.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	if _, err := client.API.ConvertMoneyToCoins(ctx, api.ConvertRequest{Amount: decimal.NewFromInt(5)}); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if _, err := client.API.Balance(ctx, false); err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if got := balanceHits.Load(); got != 2 {
		t.Errorf("Expected convert to invalidate the balance, got %d requests", got)
	}

	if err := client.API.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if client.Session.Current().LoggedIn() {
		t.Error("Session should be cleared after logout")
	}
}

func TestClientUnauthorizedEndsSession(t *testing.T) {
	srv, _ := newBackend(t)
	cfg := validConfig()
	cfg.BaseURL = srv.URL
	cfg.EnableMetrics = true

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.Session.SetCredentials(ctx, "revoked", sessionUser()); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}

	_, err = client.API.Balance(ctx, false)
	apiErr, ok := api.AsError(err)
	if !ok || !apiErr.Unauthorized() {
		t.Fatalf("Expected 401 error, got %v", err)
	}
	if client.Session.Current().LoggedIn() {
		t.Error("Session should be cleared after 401")
	}
}

func TestClientBackgroundUnauthorizedResetsCache(t *testing.T) {
	var revoked atomic.Bool
	var coinHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok-b", "user": map[string]any{"id": 8}})
	})
	mux.HandleFunc("GET /coins/me", func(w http.ResponseWriter, r *http.Request) {
		coinHits.Add(1)
		coins := 111
		if r.Header.Get("Authorization") == "Bearer tok-b" {
			coins = 222
		}
		writeJSON(w, http.StatusOK, map[string]any{"coins": coins})
	})
	mux.HandleFunc("GET /money/me", func(w http.ResponseWriter, r *http.Request) {
		if revoked.Load() {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"balance": "42.50"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := validConfig()
	cfg.BaseURL = srv.URL
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Session.SetCredentials(ctx, "tok-a", sessionUser()); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}

	if coins, err := client.API.Coins(ctx, false); err != nil || coins.Coins != 111 {
		t.Fatalf("Expected 111 coins, got %v, %v", coins, err)
	}
	sub, err := client.API.Watch(ctx, api.EndpointBalance, nil, false)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer sub.Unsubscribe()
	if _, err := sub.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	revoked.Store(true)
	if err := client.Cache.Invalidate(ctx, []string{api.TagWallet}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	r, err := sub.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if r.Status != cache.StatusRejected || r.HasValue {
		t.Fatalf("Expected rejected entry without value, got %+v", r)
	}
	if apiErr, ok := api.AsError(r.Err); !ok || !apiErr.Unauthorized() {
		t.Fatalf("Expected 401 on the subscription, got %v", r.Err)
	}
	if client.Session.Current().LoggedIn() {
		t.Fatal("Session should be cleared after 401")
	}

	// The idle coins entry went with the rejected token.
	if err := client.Session.SetCredentials(ctx, "tok-a2", sessionUser()); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}
	if _, err := client.API.Coins(ctx, false); err != nil {
		t.Fatalf("Coins failed: %v", err)
	}
	if got := coinHits.Load(); got != 2 {
		t.Fatalf("Expected coins to be refetched, got %d requests", got)
	}

	if _, err := client.API.Login(ctx, api.LoginRequest{Phone: "+99361234", Password: "secret1"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	coins, err := client.API.Coins(ctx, false)
	if err != nil {
		t.Fatalf("Coins failed: %v", err)
	}
	if coins.Coins != 222 {
		t.Fatalf("Second account served stale coins: got %d, want 222", coins.Coins)
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	srv, _ := newBackend(t)
	cfg := validConfig()
	cfg.BaseURL = srv.URL
	cfg.Store = StoreConfig{Type: StoreSQLite, Path: filepath.Join(t.TempDir(), "session.db")}

	first, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if _, err := first.API.Login(context.Background(), api.LoginRequest{Phone: "+99361234", Password: "secret1"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to reopen client: %v", err)
	}
	defer second.Close()

	s := second.Session.Current()
	if !s.LoggedIn() || s.Token != "tok-1" {
		t.Fatalf("Expected rehydrated session, got %+v", s)
	}
	if s.User == nil || s.User.ID != 7 {
		t.Errorf("Expected user 7, got %+v", s.User)
	}
	if _, err := second.API.Balance(context.Background(), false); err != nil {
		t.Errorf("Rehydrated token should authorize requests: %v", err)
	}
}

func TestMutationMetricsRecorded(t *testing.T) {
	srv, _ := newBackend(t)
	cfg := validConfig()
	cfg.BaseURL = srv.URL
	cfg.EnableMetrics = true

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if _, err := client.API.Login(ctx, api.LoginRequest{Phone: "+99361234", Password: "secret1"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	families, err := client.Metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var submissions float64
	for _, f := range families {
		if f.GetName() != "querysync_mutation_submissions_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			submissions += m.GetCounter().GetValue()
		}
	}
	if submissions != 1 {
		t.Errorf("Expected one recorded submission, got %v", submissions)
	}
}

func TestLoggerFromConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Log = LogConfig{Level: "debug", Format: "json"}

	logger, zl, err := newLogger(cfg)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	if logger == nil || zl == nil {
		t.Fatal("Expected zap-backed logger")
	}

	cfg.Log.Level = "loud"
	if _, _, err := newLogger(cfg); err == nil {
		t.Error("Expected error for unknown level")
	}

	cfg.Log.Format = "none"
	if _, zl, err := newLogger(cfg); err != nil || zl != nil {
		t.Errorf("Expected no-op logger, got %v / %v", zl, err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv, _ := newBackend(t)
	cfg := validConfig()
	cfg.BaseURL = srv.URL

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}
