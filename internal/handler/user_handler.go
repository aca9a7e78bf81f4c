package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/hitoshi/babyfamily/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context) (*model.User, error)
	UpdateProfile(ctx context.Context, patch model.UserPatch) (*model.User, error)
}

// UserHandler はユーザープロフィールのHTTPハンドラー。
type UserHandler struct {
	service   UserServiceInterface
	validator *requestValidator
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service:   service,
		validator: newRequestValidator(),
	}
}

type updateProfileRequest struct {
	Nickname  nullable.Nullable[string] `json:"nickname"`
	Phone     nullable.Nullable[string] `json:"phone"`
	AvatarURL nullable.Nullable[string] `json:"avatarUrl"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatarUrl"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
}

// GetMe は操作者のプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetProfile(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UpdateMe は操作者のプロフィールを部分更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	details := make(map[string]string)
	patch := model.UserPatch{
		Nickname:  patchField(h.validator, details, "nickname", req.Nickname, "required,max=32"),
		Phone:     patchField(h.validator, details, "phone", req.Phone, "omitempty,numeric,max=20"),
		AvatarURL: patchField(h.validator, details, "avatarUrl", req.AvatarURL, "omitempty,http_url,max=512"),
	}
	if len(details) > 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(details))
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), patch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Nickname:  u.Nickname,
		AvatarURL: u.AvatarURL,
		Phone:     u.Phone,
		CreatedAt: u.CreatedAt,
	}
}
