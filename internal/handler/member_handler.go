package handler

import (
	"net/http"
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/hitoshi/babyfamily/internal/family"
	"github.com/hitoshi/babyfamily/internal/model"
)

// MemberHandler は家族メンバー管理のHTTPハンドラー。
type MemberHandler struct {
	service   FamilyServiceInterface
	validator *requestValidator
}

// NewMemberHandler はMemberHandlerを生成する。
func NewMemberHandler(service FamilyServiceInterface) *MemberHandler {
	return &MemberHandler{
		service:   service,
		validator: newRequestValidator(),
	}
}

type addMemberRequest struct {
	UserID          string `json:"userId" validate:"required,uuid"`
	Relation        string `json:"relation" validate:"required,max=20"`
	RelationDisplay string `json:"relationDisplay" validate:"omitempty,max=20"`
	IsAdmin         bool   `json:"isAdmin"`
}

type updateMemberRequest struct {
	Relation        nullable.Nullable[string] `json:"relation"`
	RelationDisplay nullable.Nullable[string] `json:"relationDisplay"`
	IsAdmin         nullable.Nullable[bool]   `json:"isAdmin"`
}

type membershipResponse struct {
	ID              string    `json:"id"`
	BabyID          string    `json:"babyId"`
	UserID          string    `json:"userId"`
	Relation        string    `json:"relation"`
	RelationDisplay string    `json:"relationDisplay"`
	IsAdmin         bool      `json:"isAdmin"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type memberResponse struct {
	membershipResponse
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl"`
	IsCreator bool   `json:"isCreator"`
}

// ListMembers は赤ちゃんの家族メンバー一覧を返す。
// GET /api/babies/{babyID}/members
func (h *MemberHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	babyID, ok := h.validator.pathID(w, r, "babyID", model.NewBabyNotFoundError)
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), babyID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]memberResponse, 0, len(members))
	for i := range members {
		m := &members[i]
		resp = append(resp, memberResponse{
			membershipResponse: toMembershipResponse(&m.Membership),
			Nickname:           m.Nickname,
			AvatarURL:          m.AvatarURL,
			IsCreator:          m.IsCreator,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddMember は既存ユーザーを家族メンバーとして追加する。管理者のみ実行できる。
// POST /api/babies/{babyID}/members
func (h *MemberHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	babyID, ok := h.validator.pathID(w, r, "babyID", model.NewBabyNotFoundError)
	if !ok {
		return
	}

	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if apiErr := h.validator.Struct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	m, err := h.service.AddMember(r.Context(), babyID, family.AddMemberInput{
		UserID:          req.UserID,
		Relation:        req.Relation,
		RelationDisplay: req.RelationDisplay,
		IsAdmin:         req.IsAdmin,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMembershipResponse(m))
}

// UpdateMember は家族メンバーの続柄・管理者権限を部分更新する。管理者のみ実行できる。
// PATCH /api/babies/{babyID}/members/{userID}
func (h *MemberHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	babyID, userID, ok := h.memberPath(w, r)
	if !ok {
		return
	}

	var req updateMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	details := make(map[string]string)
	patch := model.MembershipPatch{
		Relation:        patchField(h.validator, details, "relation", req.Relation, "required,max=20"),
		RelationDisplay: patchField(h.validator, details, "relationDisplay", req.RelationDisplay, "max=20"),
		IsAdmin:         patchField(h.validator, details, "isAdmin", req.IsAdmin, ""),
	}
	if len(details) > 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(details))
		return
	}

	m, err := h.service.UpdateMemberRole(r.Context(), babyID, userID, patch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMembershipResponse(m))
}

// RemoveMember は家族メンバーを削除する。作成者は削除できない。
// DELETE /api/babies/{babyID}/members/{userID}
func (h *MemberHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	babyID, userID, ok := h.memberPath(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), babyID, userID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toMembershipResponse(m *model.Membership) membershipResponse {
	return membershipResponse{
		ID:              m.ID,
		BabyID:          m.BabyID,
		UserID:          m.UserID,
		Relation:        m.Relation,
		RelationDisplay: m.RelationDisplay,
		IsAdmin:         m.IsAdmin,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// memberPath はURLパスの赤ちゃんIDとメンバーのユーザーIDを取り出す。
func (h *MemberHandler) memberPath(w http.ResponseWriter, r *http.Request) (babyID, userID string, ok bool) {
	if babyID, ok = h.validator.pathID(w, r, "babyID", model.NewBabyNotFoundError); !ok {
		return "", "", false
	}
	if userID, ok = h.validator.pathID(w, r, "userID", model.NewMemberNotFoundError); !ok {
		return "", "", false
	}
	return babyID, userID, true
}
