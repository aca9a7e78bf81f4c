package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/babyfamily/internal/access"
	"github.com/hitoshi/babyfamily/internal/auth"
	"github.com/hitoshi/babyfamily/internal/middleware"
	"github.com/hitoshi/babyfamily/internal/model"
)

func TestAuthHandler_Login_Success(t *testing.T) {
	expiresAt := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			if code != "wx-code" {
				t.Errorf("code = %q, want %q", code, "wx-code")
			}
			return &auth.LoginResult{
				UserID:    "d1d1d1d1-0000-4000-8000-000000000001",
				OpenID:    "openid-1",
				IsNewUser: true,
				ExpiresAt: expiresAt,
			}, nil
		},
	}
	h := NewAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Login(w, newJSONRequest(http.MethodPost, "/auth/login", `{"code":"  wx-code "}`))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.UserID != "d1d1d1d1-0000-4000-8000-000000000001" || body.OpenID != "openid-1" || !body.IsNewUser {
		t.Errorf("body = %+v", body)
	}
	if !body.ExpiresAt.Equal(expiresAt) {
		t.Errorf("expiresAt = %v, want %v", body.ExpiresAt, expiresAt)
	}
}

func TestAuthHandler_Login_MissingCode(t *testing.T) {
	called := false
	h := NewAuthHandler(&mockAuthService{
		loginFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			called = true
			return nil, nil
		},
	})

	w := httptest.NewRecorder()
	h.Login(w, newJSONRequest(http.MethodPost, "/auth/login", `{"code":"   "}`))

	body := assertErrorResponse(t, w.Result(), http.StatusBadRequest, model.ErrCodeValidationFailed)
	if body.Details["code"] == "" {
		t.Errorf("details = %v, want code entry", body.Details)
	}
	if called {
		t.Error("service should not be called for invalid request")
	}
}

func TestAuthHandler_Login_InvalidJSON(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	h.Login(w, newJSONRequest(http.MethodPost, "/auth/login", `{"code":`))

	assertErrorResponse(t, w.Result(), http.StatusBadRequest, model.ErrCodeInvalidRequest)
}

func TestAuthHandler_Login_ProviderError(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		loginFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			return nil, model.NewExternalProviderError()
		},
	})

	w := httptest.NewRecorder()
	h.Login(w, newJSONRequest(http.MethodPost, "/auth/login", `{"code":"bad"}`))

	assertErrorResponse(t, w.Result(), http.StatusBadGateway, model.ErrCodeExternalProvider)
}

func TestAuthHandler_CheckSession(t *testing.T) {
	expiresAt := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		header    string
		status    *auth.SessionStatus
		wantValid bool
	}{
		{
			name:      "有効なセッション",
			header:    "openid-1",
			status:    &auth.SessionStatus{Valid: true, ExpiresAt: &expiresAt},
			wantValid: true,
		},
		{
			name:      "期限切れのセッション",
			header:    "openid-1",
			status:    &auth.SessionStatus{Valid: false, ExpiresAt: &expiresAt},
			wantValid: false,
		},
		{
			name:      "ヘッダーなし",
			header:    "",
			status:    &auth.SessionStatus{Valid: false},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOpenID string
			h := NewAuthHandler(&mockAuthService{
				checkSessionFn: func(ctx context.Context, openID string) (*auth.SessionStatus, error) {
					gotOpenID = openID
					return tt.status, nil
				},
			})

			req := httptest.NewRequest(http.MethodGet, "/auth/check-session", nil)
			if tt.header != "" {
				req.Header.Set(middleware.OpenIDHeader, " "+tt.header+" ")
			}
			w := httptest.NewRecorder()
			h.CheckSession(w, req)

			resp := w.Result()
			// 無効なセッションでも401にはならないこと
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
			}
			if gotOpenID != tt.header {
				t.Errorf("openID = %q, want %q", gotOpenID, tt.header)
			}

			var body sessionStatusResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Valid != tt.wantValid {
				t.Errorf("valid = %v, want %v", body.Valid, tt.wantValid)
			}
		})
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	var gotActor access.Actor
	h := NewAuthHandler(&mockAuthService{
		logoutFn: func(ctx context.Context) error {
			gotActor, _ = access.ActorFromContext(ctx)
			return nil
		},
	})

	req := withActor(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), "d1d1d1d1-0000-4000-8000-000000000001")
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotActor.UserID != "d1d1d1d1-0000-4000-8000-000000000001" {
		t.Errorf("actor = %+v, want d1d1d1d1-0000-4000-8000-000000000001", gotActor)
	}
}

func TestAuthHandler_Logout_InternalError(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		logoutFn: func(ctx context.Context) error {
			return errors.New("db down")
		},
	})

	req := withActor(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), "d1d1d1d1-0000-4000-8000-000000000001")
	w := httptest.NewRecorder()
	h.Logout(w, req)

	assertErrorResponse(t, w.Result(), http.StatusInternalServerError, model.ErrCodeInternal)
}
