//go:build !integration

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"khip-entitlements/internal/config"
	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/infra/db/memory"
	"khip-entitlements/internal/usecase"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	secret     = "test-secret"
	serviceKey = "svc-key"
	adminKey   = "adm-key"
)

type testEnv struct {
	srv   *Server
	h     http.Handler
	repo  *memory.PurchaseRepo
	now   time.Time
	token func(userID string) string
}

func newTestEnv(t *testing.T, rps float64, burst int) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zerolog.New(nil)
	env := &testEnv{now: t0}
	clock := func() time.Time { return env.now }
	env.repo = memory.NewPurchaseRepo().WithClock(clock)

	ent := usecase.NewEntitlementUseCase(env.repo, &logger).WithClock(clock)
	lc := usecase.NewLifecycleUseCase(env.repo, memory.TxManager{}, nil, &logger).WithClock(clock)
	deps := Deps{
		Purchases:    usecase.NewPurchaseUseCase(env.repo, ent, nil, usecase.TrialLimit{PerHour: 3}, &logger),
		Entitlements: ent,
		Access:       usecase.NewAccessUseCase(ent, &logger),
		Queue:        usecase.NewAdminQueueUseCase(env.repo, lc, &logger),
		Gatherer:     prometheus.NewRegistry(),
	}
	cfg := &config.Config{
		HTTP: config.HTTPConfig{Port: 0, CORSOrigins: []string{"https://khip.example"}, RateRPS: rps, RateBurst: burst},
		Auth: config.AuthConfig{JWTSecret: secret, ServiceKey: serviceKey, AdminKey: adminKey},
	}
	env.srv = NewServer(ctx, cfg, deps, &logger).WithClock(clock)
	env.h = env.srv.Router()

	am := NewAuthManager(secret)
	env.token = func(userID string) string {
		tok, err := am.Mint(userID, time.Hour)
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		return tok
	}
	return env
}

func (e *testEnv) do(method, path, bearer, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndTraceID(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	rr := env.do(http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Error("expected a generated trace id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Trace-ID", "abc")
	out := httptest.NewRecorder()
	env.h.ServeHTTP(out, req)
	if out.Header().Get("X-Trace-ID") != "abc" {
		t.Errorf("expected incoming trace id to be echoed, got %q", out.Header().Get("X-Trace-ID"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	if rr := env.do(http.MethodGet, "/metrics", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAuthMiddlewares(t *testing.T) {
	env := newTestEnv(t, 100, 100)

	t.Run("user routes need a valid token", func(t *testing.T) {
		if rr := env.do(http.MethodGet, "/api/v1/me/purchases", "", ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 without token, got %d", rr.Code)
		}
		if rr := env.do(http.MethodGet, "/api/v1/me/purchases", "garbage", ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 for malformed token, got %d", rr.Code)
		}
		forged, _ := NewAuthManager("other").Mint("u1", time.Hour)
		if rr := env.do(http.MethodGet, "/api/v1/me/purchases", forged, ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 for wrong signature, got %d", rr.Code)
		}
		expired, _ := NewAuthManager(secret).Mint("u1", -time.Minute)
		if rr := env.do(http.MethodGet, "/api/v1/me/purchases", expired, ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 for expired token, got %d", rr.Code)
		}
		if rr := env.do(http.MethodGet, "/api/v1/me/purchases", env.token("u1"), ""); rr.Code != http.StatusOK {
			t.Errorf("expected 200 with token, got %d", rr.Code)
		}
	})

	t.Run("admin routes need the admin key", func(t *testing.T) {
		if rr := env.do(http.MethodGet, "/api/v1/admin/queue", "", ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
		if rr := env.do(http.MethodGet, "/api/v1/admin/queue", serviceKey, ""); rr.Code != http.StatusForbidden {
			t.Errorf("service key must not open admin routes, got %d", rr.Code)
		}
		if rr := env.do(http.MethodGet, "/api/v1/admin/queue", env.token("u1"), ""); rr.Code != http.StatusForbidden {
			t.Errorf("user token must not open admin routes, got %d", rr.Code)
		}
		if rr := env.do(http.MethodGet, "/api/v1/admin/queue", adminKey, ""); rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("checkout needs the service key", func(t *testing.T) {
		body := `{"userId":"u1","type":"snapshot-plan","amount":2900}`
		if rr := env.do(http.MethodPost, "/api/v1/checkout/purchases", adminKey, body); rr.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rr.Code)
		}
	})
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, 1, 2)
	tok := env.token("u1")
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(http.MethodGet, "/api/v1/me/purchases", tok, "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %v", codes)
	}
	if rr := env.do(http.MethodGet, "/health", "", ""); rr.Code != http.StatusOK {
		t.Errorf("health is not rate limited, got %d", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(r); got != "10.0.0.1" {
		t.Errorf("expected remote addr host, got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	if got := clientIP(r); got != "1.1.1.1" {
		t.Errorf("expected first forwarded address, got %q", got)
	}
	r.Header.Set("X-Real-IP", "3.3.3.3")
	if got := clientIP(r); got != "3.3.3.3" {
		t.Errorf("expected X-Real-IP, got %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	p, err := env.repo.Create(context.Background(), nil, model.PurchaseInput{UserID: "u1", Type: model.PurchaseTypeSnapshotPlan})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// grant purchases have no lifecycle
	rr := env.do(http.MethodPost, "/api/v1/admin/purchases/"+p.ID+"/draft", adminKey, "")
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for invalid transition, got %d", rr.Code)
	}
	rr = env.do(http.MethodPost, "/api/v1/admin/purchases/missing/draft", adminKey, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
	rr = env.do(http.MethodPost, "/api/v1/checkout/purchases", serviceKey, `{"userId":"u1","type":"lifetime"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
	rr = env.do(http.MethodPost, "/api/v1/checkout/purchases", serviceKey, `{"userId":"u1","type":`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed json, got %d", rr.Code)
	}
}
