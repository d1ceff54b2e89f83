// Package auth はユーザー登録、パスワード認証、アクセストークンの発行と検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/repository"
)

const (
	maxUsernameLength = 64
	minPasswordLength = 8
	// bcryptの入力上限
	maxPasswordBytes = 72
	tokenIssuer      = "timeclock"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Secret           []byte        // HS256の署名鍵
	TokenTTL         time.Duration // トークン有効期間
	BcryptCost       int
	AllowAdminSignup bool // 管理者ロールでの自己登録を許可するか
}

// Claims はアクセストークンのクレーム。
type Claims struct {
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Token は発行済みのアクセストークン。
type Token struct {
	Value     string
	ExpiresAt time.Time
	Principal model.Principal
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users       repository.UserRepository
	revocations repository.TokenRevocationRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	revocations repository.TokenRevocationRepository,
	config ServiceConfig,
) *Service {
	if config.TokenTTL <= 0 {
		config.TokenTTL = time.Hour
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:       users,
		revocations: revocations,
		config:      config,
		now:         time.Now,
	}
}

// Signup はユーザーを登録する。
// 管理者ロールはAllowAdminSignupが有効な場合のみ登録できる。
func (s *Service) Signup(ctx context.Context, username, password string, role model.Role) (*model.User, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return nil, model.NewInvalidRequestError("role must be admin or user")
	}
	if role == model.RoleAdmin && !s.config.AllowAdminSignup {
		return nil, model.NewAdminSignupForbiddenError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUserExistsError(username)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered",
		slog.String("username", username),
		slog.String("role", string(role)),
	)
	return user, nil
}

// Authenticate はユーザー名とパスワードを検証し、アクセストークンを発行する。
// ユーザーが存在しない場合とパスワードが誤っている場合は区別せずAUTH_FAILEDを返す。
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Token, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewAuthFailedError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Info("login failed", slog.String("username", user.Username))
		return nil, model.NewAuthFailedError()
	}

	principal := model.Principal{Username: user.Username, Role: user.Role}
	token, err := s.issue(principal)
	if err != nil {
		return nil, err
	}
	slog.Info("user logged in", slog.String("username", user.Username))
	return token, nil
}

// Verify はアクセストークンを検証し、認証主体を返す。
// 署名不正、期限切れ、失効済みのいずれもINVALID_TOKENとなる。
func (s *Service) Verify(ctx context.Context, tokenString string) (model.Principal, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return model.Principal{}, err
	}

	if s.revocations != nil && claims.ID != "" {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return model.Principal{}, fmt.Errorf("failed to check token revocation: %w", err)
		}
		if revoked {
			return model.Principal{}, model.NewInvalidTokenError()
		}
	}
	return model.Principal{Username: claims.Username, Role: claims.Role}, nil
}

// Logout はアクセストークンを有効期限まで失効させる。
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		return err
	}
	if s.revocations == nil || claims.ID == "" {
		return nil
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.Username, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	slog.Info("user logged out", slog.String("username", claims.Username))
	return nil
}

// issue は認証主体に対するアクセストークンを署名付きで生成する。
func (s *Service) issue(p model.Principal) (*Token, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TokenTTL)
	claims := Claims{
		Username: p.Username,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{Value: signed, ExpiresAt: expiresAt, Principal: p}, nil
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, model.NewUnauthorizedError()
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.config.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, model.NewInvalidTokenError()
	}
	if claims.Username == "" || !claims.Role.Valid() {
		return nil, model.NewInvalidTokenError()
	}
	return &claims, nil
}

func validateCredentials(username, password string) error {
	switch {
	case username == "":
		return model.NewInvalidRequestError("username is required")
	case utf8.RuneCountInString(username) > maxUsernameLength:
		return model.NewInvalidRequestError(fmt.Sprintf("username must be at most %d characters", maxUsernameLength))
	case len(password) < minPasswordLength:
		return model.NewInvalidRequestError(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	case len(password) > maxPasswordBytes:
		return model.NewInvalidRequestError(fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
	}
	return nil
}
