package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/hitoshi/babyfamily/internal/family"
	"github.com/hitoshi/babyfamily/internal/model"
)

// birthDateLayout は生年月日の入出力フォーマット。
const birthDateLayout = "2006-01-02"

// FamilyServiceInterface は赤ちゃん・家族メンバーハンドラーが必要とするサービスインターフェース。
type FamilyServiceInterface interface {
	CreateBaby(ctx context.Context, in family.CreateBabyInput) (*model.BabyWithRole, error)
	GetBaby(ctx context.Context, babyID string) (*model.BabyWithRole, error)
	ListBabies(ctx context.Context) ([]model.BabyWithRole, error)
	UpdateBaby(ctx context.Context, babyID string, patch model.BabyPatch) (*model.Baby, error)
	DeleteBaby(ctx context.Context, babyID string) error

	AddMember(ctx context.Context, babyID string, in family.AddMemberInput) (*model.Membership, error)
	RemoveMember(ctx context.Context, babyID, userID string) error
	UpdateMemberRole(ctx context.Context, babyID, userID string, patch model.MembershipPatch) (*model.Membership, error)
	ListMembers(ctx context.Context, babyID string) ([]model.MemberWithUser, error)
}

// BabyHandler は赤ちゃん管理のHTTPハンドラー。
type BabyHandler struct {
	service   FamilyServiceInterface
	validator *requestValidator
}

// NewBabyHandler はBabyHandlerを生成する。
func NewBabyHandler(service FamilyServiceInterface) *BabyHandler {
	return &BabyHandler{
		service:   service,
		validator: newRequestValidator(),
	}
}

// --- リクエスト・レスポンス型 ---

type createBabyRequest struct {
	Name            string `json:"name" validate:"required,max=50"`
	Gender          string `json:"gender" validate:"omitempty,oneof=male female unknown"`
	BirthDate       string `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
	AvatarURL       string `json:"avatarUrl" validate:"omitempty,http_url,max=512"`
	Relation        string `json:"relation" validate:"required,max=20"`
	RelationDisplay string `json:"relationDisplay" validate:"omitempty,max=20"`
}

type updateBabyRequest struct {
	Name      nullable.Nullable[string] `json:"name"`
	Gender    nullable.Nullable[string] `json:"gender"`
	BirthDate nullable.Nullable[string] `json:"birthDate"`
	AvatarURL nullable.Nullable[string] `json:"avatarUrl"`
}

type babyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Gender    string    `json:"gender,omitempty"`
	BirthDate string    `json:"birthDate,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// babyWithRoleResponse は操作者から見た赤ちゃんのレスポンス。
type babyWithRoleResponse struct {
	babyResponse
	Relation        string `json:"relation"`
	RelationDisplay string `json:"relationDisplay"`
	IsAdmin         bool   `json:"isAdmin"`
}

// ListBabies は操作者が所属する赤ちゃんの一覧を返す。
// GET /api/babies
func (h *BabyHandler) ListBabies(w http.ResponseWriter, r *http.Request) {
	babies, err := h.service.ListBabies(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]babyWithRoleResponse, 0, len(babies))
	for i := range babies {
		resp = append(resp, toBabyWithRoleResponse(&babies[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateBaby は赤ちゃんを作成し、操作者を管理者として登録する。
// POST /api/babies
func (h *BabyHandler) CreateBaby(w http.ResponseWriter, r *http.Request) {
	var req createBabyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if apiErr := h.validator.Struct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	in := family.CreateBabyInput{
		Name:            req.Name,
		Gender:          req.Gender,
		AvatarURL:       req.AvatarURL,
		Relation:        req.Relation,
		RelationDisplay: req.RelationDisplay,
	}
	if req.BirthDate != "" {
		// 形式は検証済み
		d, _ := time.Parse(birthDateLayout, req.BirthDate)
		in.BirthDate = &d
	}

	baby, err := h.service.CreateBaby(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBabyWithRoleResponse(baby))
}

// GetBaby は赤ちゃんの詳細を返す。家族メンバーのみ参照できる。
// GET /api/babies/{babyID}
func (h *BabyHandler) GetBaby(w http.ResponseWriter, r *http.Request) {
	babyID, ok := h.validator.pathID(w, r, "babyID", model.NewBabyNotFoundError)
	if !ok {
		return
	}

	baby, err := h.service.GetBaby(r.Context(), babyID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBabyWithRoleResponse(baby))
}

// UpdateBaby は赤ちゃん情報を部分更新する。管理者のみ実行できる。
// PATCH /api/babies/{babyID}
func (h *BabyHandler) UpdateBaby(w http.ResponseWriter, r *http.Request) {
	babyID, ok := h.validator.pathID(w, r, "babyID", model.NewBabyNotFoundError)
	if !ok {
		return
	}

	var req updateBabyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	details := make(map[string]string)
	patch := model.BabyPatch{
		Name:      patchField(h.validator, details, "name", req.Name, "required,max=50"),
		Gender:    patchField(h.validator, details, "gender", req.Gender, "oneof=male female unknown"),
		AvatarURL: patchField(h.validator, details, "avatarUrl", req.AvatarURL, "omitempty,http_url,max=512"),
	}
	if s := patchField(h.validator, details, "birthDate", req.BirthDate, "datetime=2006-01-02"); s != nil {
		d, _ := time.Parse(birthDateLayout, *s)
		patch.BirthDate = &d
	}
	if len(details) > 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(details))
		return
	}

	baby, err := h.service.UpdateBaby(r.Context(), babyID, patch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBabyResponse(baby))
}

// DeleteBaby は赤ちゃんと家族関係・招待をまとめて削除する。管理者のみ実行できる。
// DELETE /api/babies/{babyID}
func (h *BabyHandler) DeleteBaby(w http.ResponseWriter, r *http.Request) {
	babyID, ok := h.validator.pathID(w, r, "babyID", model.NewBabyNotFoundError)
	if !ok {
		return
	}

	if err := h.service.DeleteBaby(r.Context(), babyID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toBabyResponse(b *model.Baby) babyResponse {
	resp := babyResponse{
		ID:        b.ID,
		Name:      b.Name,
		Gender:    b.Gender,
		AvatarURL: b.AvatarURL,
		CreatedBy: b.CreatedBy,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if b.BirthDate != nil {
		resp.BirthDate = b.BirthDate.Format(birthDateLayout)
	}
	return resp
}

func toBabyWithRoleResponse(b *model.BabyWithRole) babyWithRoleResponse {
	return babyWithRoleResponse{
		babyResponse:    toBabyResponse(&b.Baby),
		Relation:        b.Relation,
		RelationDisplay: b.RelationDisplay,
		IsAdmin:         b.IsAdmin,
	}
}
