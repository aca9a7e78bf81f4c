package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/babyfamily/internal/model"
)

// InvitationServiceInterface は招待ハンドラーが必要とするサービスインターフェース。
type InvitationServiceInterface interface {
	CreateInvitation(ctx context.Context, babyID string, validDays *int) (*model.Invitation, error)
	ListInvitations(ctx context.Context, babyID string) ([]*model.Invitation, error)
	ResolveInvitation(ctx context.Context, code string) (*model.InvitationPreview, error)
	RedeemInvitation(ctx context.Context, code, relation, relationDisplay string) (*model.BabyWithRole, error)
	DeleteInvitation(ctx context.Context, babyID, invitationID string) error
	InvitationQRCode(ctx context.Context, babyID, invitationID string) ([]byte, error)
}

// InvitationHandler は招待コードのHTTPハンドラー。
type InvitationHandler struct {
	service   InvitationServiceInterface
	validator *requestValidator
}

// NewInvitationHandler はInvitationHandlerを生成する。
func NewInvitationHandler(service InvitationServiceInterface) *InvitationHandler {
	return &InvitationHandler{
		service:   service,
		validator: newRequestValidator(),
	}
}

type createInvitationRequest struct {
	ValidDays *int `json:"validDays" validate:"omitempty,min=0,max=30"`
}

type joinRequest struct {
	InviteCode      string `json:"inviteCode" validate:"required,alphanum,max=32"`
	Relation        string `json:"relation" validate:"required,max=20"`
	RelationDisplay string `json:"relationDisplay" validate:"omitempty,max=20"`
}

type invitationResponse struct {
	ID        string     `json:"id"`
	BabyID    string     `json:"babyId"`
	Code      string     `json:"code"`
	CreatedBy string     `json:"createdBy"`
	ExpireAt  time.Time  `json:"expireAt"`
	Status    string     `json:"status"`
	UsedBy    string     `json:"usedBy,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type invitationPreviewResponse struct {
	Code     string    `json:"code"`
	BabyID   string    `json:"babyId"`
	BabyName string    `json:"babyName"`
	ExpireAt time.Time `json:"expireAt"`
	Status   string    `json:"status"`
}

// CreateInvitation は招待コードを発行する。管理者のみ実行できる。
// ボディ省略時は既定の有効日数で発行する。
// POST /api/babies/{babyID}/invitations
func (h *InvitationHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	babyID, ok := h.validator.pathID(w, r, "babyID", model.NewBabyNotFoundError)
	if !ok {
		return
	}

	var req createInvitationRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if apiErr := h.validator.Struct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	inv, err := h.service.CreateInvitation(r.Context(), babyID, req.ValidDays)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvitationResponse(inv))
}

// ListInvitations は赤ちゃんの招待一覧を返す。管理者のみ参照できる。
// GET /api/babies/{babyID}/invitations
func (h *InvitationHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	babyID, ok := h.validator.pathID(w, r, "babyID", model.NewBabyNotFoundError)
	if !ok {
		return
	}

	invitations, err := h.service.ListInvitations(r.Context(), babyID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]invitationResponse, 0, len(invitations))
	for _, inv := range invitations {
		resp = append(resp, toInvitationResponse(inv))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteInvitation は招待を削除する。管理者のみ実行できる。
// DELETE /api/babies/{babyID}/invitations/{invitationID}
func (h *InvitationHandler) DeleteInvitation(w http.ResponseWriter, r *http.Request) {
	babyID, invitationID, ok := h.invitationPath(w, r)
	if !ok {
		return
	}

	err := h.service.DeleteInvitation(r.Context(), babyID, invitationID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QRCode は招待コードを埋め込んだ小程序コード画像を返す。
// GET /api/babies/{babyID}/invitations/{invitationID}/qrcode
func (h *InvitationHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	babyID, invitationID, ok := h.invitationPath(w, r)
	if !ok {
		return
	}

	png, err := h.service.InvitationQRCode(r.Context(), babyID, invitationID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// Resolve は招待コードのプレビューを返す。
// GET /api/invitations/resolve?code=XXXX
func (h *InvitationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	code := normalizeInviteCode(r.URL.Query().Get("code"))

	details := make(map[string]string)
	h.validator.Var(details, "code", code, "required,alphanum,max=32")
	if len(details) > 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(details))
		return
	}

	preview, err := h.service.ResolveInvitation(r.Context(), code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationPreviewResponse{
		Code:     preview.Code,
		BabyID:   preview.BabyID,
		BabyName: preview.BabyName,
		ExpireAt: preview.ExpireAt,
		Status:   string(preview.Status),
	})
}

// Join は招待コードを引き換え、操作者を家族メンバーとして追加する。
// POST /api/invitations/join
func (h *InvitationHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.InviteCode = normalizeInviteCode(req.InviteCode)
	if apiErr := h.validator.Struct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	baby, err := h.service.RedeemInvitation(r.Context(), req.InviteCode, req.Relation, req.RelationDisplay)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBabyWithRoleResponse(baby))
}

// normalizeInviteCode は手入力された招待コードを大文字に揃える。
func normalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func toInvitationResponse(inv *model.Invitation) invitationResponse {
	return invitationResponse{
		ID:        inv.ID,
		BabyID:    inv.BabyID,
		Code:      inv.Code,
		CreatedBy: inv.CreatedBy,
		ExpireAt:  inv.ExpireAt,
		Status:    string(inv.Status),
		UsedBy:    inv.UsedBy,
		UsedAt:    inv.UsedAt,
		CreatedAt: inv.CreatedAt,
	}
}

// invitationPath はURLパスの赤ちゃんIDと招待IDを取り出す。
func (h *InvitationHandler) invitationPath(w http.ResponseWriter, r *http.Request) (babyID, invitationID string, ok bool) {
	if babyID, ok = h.validator.pathID(w, r, "babyID", model.NewBabyNotFoundError); !ok {
		return "", "", false
	}
	invitationID, ok = h.validator.pathID(w, r, "invitationID", func(string) *model.APIError {
		return model.NewInvitationNotFoundError()
	})
	if !ok {
		return "", "", false
	}
	return babyID, invitationID, true
}
