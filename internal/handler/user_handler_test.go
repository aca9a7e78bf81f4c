package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/babyfamily/internal/model"
)

func testUser() *model.User {
	return &model.User{
		ID:        "d1d1d1d1-0000-4000-8000-000000000001",
		Nickname:  "ママ",
		AvatarURL: "https://example.com/a.png",
		Phone:     "09012345678",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestUserHandler_GetMe(t *testing.T) {
	h := NewUserHandler(&mockUserService{
		getProfileFn: func(ctx context.Context) (*model.User, error) {
			return testUser(), nil
		},
	})

	req := withActor(httptest.NewRequest(http.MethodGet, "/api/users/me", nil), "d1d1d1d1-0000-4000-8000-000000000001")
	w := httptest.NewRecorder()
	h.GetMe(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body userResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.ID != "d1d1d1d1-0000-4000-8000-000000000001" || body.Nickname != "ママ" {
		t.Errorf("body = %+v", body)
	}
}

func TestUserHandler_GetMe_NotFound(t *testing.T) {
	h := NewUserHandler(&mockUserService{
		getProfileFn: func(ctx context.Context) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	})

	w := httptest.NewRecorder()
	h.GetMe(w, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))

	assertErrorResponse(t, w.Result(), http.StatusNotFound, model.ErrCodeUserNotFound)
}

func TestUserHandler_UpdateMe_PartialPatch(t *testing.T) {
	var got model.UserPatch
	h := NewUserHandler(&mockUserService{
		updateProfileFn: func(ctx context.Context, patch model.UserPatch) (*model.User, error) {
			got = patch
			return testUser(), nil
		},
	})

	req := withActor(newJSONRequest(http.MethodPatch, "/api/users/me", `{"nickname":"パパ"}`), "d1d1d1d1-0000-4000-8000-000000000001")
	w := httptest.NewRecorder()
	h.UpdateMe(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.Nickname == nil || *got.Nickname != "パパ" {
		t.Errorf("Nickname = %v, want パパ", got.Nickname)
	}
	// 未指定のフィールドはnilのまま渡されること
	if got.Phone != nil || got.AvatarURL != nil {
		t.Errorf("unspecified fields should be nil: %+v", got)
	}
}

func TestUserHandler_UpdateMe_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"nicknameにnull", `{"nickname":null}`, "nickname"},
		{"nicknameが空", `{"nickname":""}`, "nickname"},
		{"phoneが数字以外", `{"phone":"abc"}`, "phone"},
		{"avatarUrlが不正", `{"avatarUrl":"not a url"}`, "avatarUrl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := NewUserHandler(&mockUserService{
				updateProfileFn: func(ctx context.Context, patch model.UserPatch) (*model.User, error) {
					called = true
					return testUser(), nil
				},
			})

			w := httptest.NewRecorder()
			h.UpdateMe(w, newJSONRequest(http.MethodPatch, "/api/users/me", tt.body))

			body := assertErrorResponse(t, w.Result(), http.StatusBadRequest, model.ErrCodeValidationFailed)
			if _, ok := body.Details[tt.wantField]; !ok {
				t.Errorf("details = %v, want %q entry", body.Details, tt.wantField)
			}
			if called {
				t.Error("service should not be called")
			}
		})
	}
}
