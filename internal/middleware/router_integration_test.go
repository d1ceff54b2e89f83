package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// newChainRouter は本番と同じ順序でミドルウェアを組み立てたchi.Routerを返す。
func newChainRouter(t *testing.T, logs *bytes.Buffer) http.Handler {
	t.Helper()
	rl := NewRateLimiter(testLimiterConfig(10, 1))
	t.Cleanup(rl.Stop)

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware())
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewCORSMiddleware("http://localhost:3000"))
	r.Use(NewLoggingMiddleware(slog.New(slog.NewJSONHandler(logs, nil)), nil))

	r.Get("/api/time", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(staticVerifier()))
		r.Use(rl.GeneralMiddleware())

		r.Get("/api/records/{username}", func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"username": p.Username})
		})
		r.With(rl.StampMiddleware()).Post("/api/records", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
		r.With(RequireAdmin()).Get("/api/records", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Get("/api/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})
	return r
}

// TestRouterIntegration_PublicRoute_NoTokenRequired は公開ルートが認証なしで通りセキュリティヘッダーが付くことを検証する。
func TestRouterIntegration_PublicRoute_NoTokenRequired(t *testing.T) {
	router := newChainRouter(t, &bytes.Buffer{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/time", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

// TestRouterIntegration_ProtectedRoutes は認証・権限・レート制限の組み合わせを検証する。
func TestRouterIntegration_ProtectedRoutes(t *testing.T) {
	router := newChainRouter(t, &bytes.Buffer{})

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{"トークンなし", http.MethodGet, "/api/records/alice", "", http.StatusUnauthorized},
		{"本人の記録", http.MethodGet, "/api/records/alice", "alice-token", http.StatusOK},
		{"一般ユーザーは管理者ルート不可", http.MethodGet, "/api/records", "alice-token", http.StatusForbidden},
		{"管理者ルート", http.MethodGet, "/api/records", "boss-token", http.StatusOK},
		{"打刻", http.MethodPost, "/api/records", "boss-token", http.StatusCreated},
		{"打刻のレート制限", http.MethodPost, "/api/records", "boss-token", http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req = withBearer(req, tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// TestRouterIntegration_PanicIsRecovered はpanicが統一フォーマットの500に変換されることを検証する。
func TestRouterIntegration_PanicIsRecovered(t *testing.T) {
	var logs bytes.Buffer
	router := newChainRouter(t, &logs)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, withBearer(httptest.NewRequest(http.MethodGet, "/api/panic", nil), "alice-token"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if got := decodeErrorCode(t, w); got != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", got)
	}
}

// TestRouterIntegration_PreflightSkipsAuth はプリフライトが認証なしで204になることを検証する。
func TestRouterIntegration_PreflightSkipsAuth(t *testing.T) {
	router := newChainRouter(t, &bytes.Buffer{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/records", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
