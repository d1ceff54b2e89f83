package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/timeclock/internal/auth"
	"github.com/hitoshi/timeclock/internal/middleware"
	"github.com/hitoshi/timeclock/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, username, password string, role model.Role) (*model.User, error)
	Authenticate(ctx context.Context, username, password string) (*auth.Token, error)
	Logout(ctx context.Context, token string) error
}

// AuthHandler は登録・ログイン・ログアウトとサーバー時刻のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	now     func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
		now:     time.Now,
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type userResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expiresAt"`
}

// Signup はユーザーを登録する。
// POST /api/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.Signup(r.Context(), req.Username, req.Password, model.Role(req.Role))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		Username: user.Username,
		Role:     string(user.Role),
	})
}

// Login はユーザー名とパスワードを検証し、アクセストークンを返す。
// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token.Value,
		Username:  token.Principal.Username,
		Role:      string(token.Principal.Role),
		ExpiresAt: formatWireTime(token.ExpiresAt),
	})
}

// Logout はリクエストのアクセストークンを失効させる。
// POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Time はサーバーの現在時刻（UTC・秒精度）を返す。
// GET /api/time
func (h *AuthHandler) Time(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"dateTime": formatWireTime(h.now()),
	})
}
