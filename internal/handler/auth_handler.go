// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/babyfamily/internal/access"
	"github.com/hitoshi/babyfamily/internal/auth"
	"github.com/hitoshi/babyfamily/internal/middleware"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, code string) (*auth.LoginResult, error)
	Resolve(ctx context.Context, openID string) (access.Actor, error)
	CheckSession(ctx context.Context, openID string) (*auth.SessionStatus, error)
	Logout(ctx context.Context) error
}

// AuthHandler はログイン・セッション関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	validator *requestValidator
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service:   service,
		validator: newRequestValidator(),
	}
}

type loginRequest struct {
	Code string `json:"code" validate:"required,max=128"`
}

type loginResponse struct {
	UserID    string    `json:"userId"`
	OpenID    string    `json:"openid"`
	IsNewUser bool      `json:"isNewUser"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sessionStatusResponse struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Login は小程序のログインコードを外部IDに交換し、セッションを作成する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if apiErr := h.validator.Struct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.Login(r.Context(), req.Code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		UserID:    result.UserID,
		OpenID:    result.OpenID,
		IsNewUser: result.IsNewUser,
		ExpiresAt: result.ExpiresAt,
	})
}

// CheckSession はOpenIDヘッダーのセッションが有効かを返す。
// 無効な場合も401ではなく valid=false を返す。
// GET /auth/check-session
func (h *AuthHandler) CheckSession(w http.ResponseWriter, r *http.Request) {
	openID := strings.TrimSpace(r.Header.Get(middleware.OpenIDHeader))

	status, err := h.service.CheckSession(r.Context(), openID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionStatusResponse{
		Valid:     status.Valid,
		ExpiresAt: status.ExpiresAt,
	})
}

// Logout は操作者のセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
