package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/babyfamily/internal/access"
	"github.com/hitoshi/babyfamily/internal/auth"
	"github.com/hitoshi/babyfamily/internal/family"
	"github.com/hitoshi/babyfamily/internal/middleware"
	"github.com/hitoshi/babyfamily/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn        func(ctx context.Context, code string) (*auth.LoginResult, error)
	resolveFn      func(ctx context.Context, openID string) (access.Actor, error)
	checkSessionFn func(ctx context.Context, openID string) (*auth.SessionStatus, error)
	logoutFn       func(ctx context.Context) error
}

func (m *mockAuthService) Login(ctx context.Context, code string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Resolve(ctx context.Context, openID string) (access.Actor, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, openID)
	}
	return access.Actor{}, model.NewUnauthenticatedError("ログイン情報がありません。")
}

func (m *mockAuthService) CheckSession(ctx context.Context, openID string) (*auth.SessionStatus, error) {
	if m.checkSessionFn != nil {
		return m.checkSessionFn(ctx, openID)
	}
	return &auth.SessionStatus{}, nil
}

func (m *mockAuthService) Logout(ctx context.Context) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	return nil
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	getProfileFn    func(ctx context.Context) (*model.User, error)
	updateProfileFn func(ctx context.Context, patch model.UserPatch) (*model.User, error)
}

func (m *mockUserService) GetProfile(ctx context.Context) (*model.User, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx)
	}
	return nil, nil
}

func (m *mockUserService) UpdateProfile(ctx context.Context, patch model.UserPatch) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, patch)
	}
	return nil, nil
}

// mockFamilyService はFamilyServiceInterfaceのモック実装。
type mockFamilyService struct {
	createBabyFn       func(ctx context.Context, in family.CreateBabyInput) (*model.BabyWithRole, error)
	getBabyFn          func(ctx context.Context, babyID string) (*model.BabyWithRole, error)
	listBabiesFn       func(ctx context.Context) ([]model.BabyWithRole, error)
	updateBabyFn       func(ctx context.Context, babyID string, patch model.BabyPatch) (*model.Baby, error)
	deleteBabyFn       func(ctx context.Context, babyID string) error
	addMemberFn        func(ctx context.Context, babyID string, in family.AddMemberInput) (*model.Membership, error)
	removeMemberFn     func(ctx context.Context, babyID, userID string) error
	updateMemberRoleFn func(ctx context.Context, babyID, userID string, patch model.MembershipPatch) (*model.Membership, error)
	listMembersFn      func(ctx context.Context, babyID string) ([]model.MemberWithUser, error)
}

func (m *mockFamilyService) CreateBaby(ctx context.Context, in family.CreateBabyInput) (*model.BabyWithRole, error) {
	if m.createBabyFn != nil {
		return m.createBabyFn(ctx, in)
	}
	return nil, nil
}

func (m *mockFamilyService) GetBaby(ctx context.Context, babyID string) (*model.BabyWithRole, error) {
	if m.getBabyFn != nil {
		return m.getBabyFn(ctx, babyID)
	}
	return nil, nil
}

func (m *mockFamilyService) ListBabies(ctx context.Context) ([]model.BabyWithRole, error) {
	if m.listBabiesFn != nil {
		return m.listBabiesFn(ctx)
	}
	return nil, nil
}

func (m *mockFamilyService) UpdateBaby(ctx context.Context, babyID string, patch model.BabyPatch) (*model.Baby, error) {
	if m.updateBabyFn != nil {
		return m.updateBabyFn(ctx, babyID, patch)
	}
	return nil, nil
}

func (m *mockFamilyService) DeleteBaby(ctx context.Context, babyID string) error {
	if m.deleteBabyFn != nil {
		return m.deleteBabyFn(ctx, babyID)
	}
	return nil
}

func (m *mockFamilyService) AddMember(ctx context.Context, babyID string, in family.AddMemberInput) (*model.Membership, error) {
	if m.addMemberFn != nil {
		return m.addMemberFn(ctx, babyID, in)
	}
	return nil, nil
}

func (m *mockFamilyService) RemoveMember(ctx context.Context, babyID, userID string) error {
	if m.removeMemberFn != nil {
		return m.removeMemberFn(ctx, babyID, userID)
	}
	return nil
}

func (m *mockFamilyService) UpdateMemberRole(ctx context.Context, babyID, userID string, patch model.MembershipPatch) (*model.Membership, error) {
	if m.updateMemberRoleFn != nil {
		return m.updateMemberRoleFn(ctx, babyID, userID, patch)
	}
	return nil, nil
}

func (m *mockFamilyService) ListMembers(ctx context.Context, babyID string) ([]model.MemberWithUser, error) {
	if m.listMembersFn != nil {
		return m.listMembersFn(ctx, babyID)
	}
	return nil, nil
}

// mockInvitationService はInvitationServiceInterfaceのモック実装。
type mockInvitationService struct {
	createFn  func(ctx context.Context, babyID string, validDays *int) (*model.Invitation, error)
	listFn    func(ctx context.Context, babyID string) ([]*model.Invitation, error)
	resolveFn func(ctx context.Context, code string) (*model.InvitationPreview, error)
	redeemFn  func(ctx context.Context, code, relation, relationDisplay string) (*model.BabyWithRole, error)
	deleteFn  func(ctx context.Context, babyID, invitationID string) error
	qrcodeFn  func(ctx context.Context, babyID, invitationID string) ([]byte, error)
}

func (m *mockInvitationService) CreateInvitation(ctx context.Context, babyID string, validDays *int) (*model.Invitation, error) {
	if m.createFn != nil {
		return m.createFn(ctx, babyID, validDays)
	}
	return nil, nil
}

func (m *mockInvitationService) ListInvitations(ctx context.Context, babyID string) ([]*model.Invitation, error) {
	if m.listFn != nil {
		return m.listFn(ctx, babyID)
	}
	return nil, nil
}

func (m *mockInvitationService) ResolveInvitation(ctx context.Context, code string) (*model.InvitationPreview, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, code)
	}
	return nil, nil
}

func (m *mockInvitationService) RedeemInvitation(ctx context.Context, code, relation, relationDisplay string) (*model.BabyWithRole, error) {
	if m.redeemFn != nil {
		return m.redeemFn(ctx, code, relation, relationDisplay)
	}
	return nil, nil
}

func (m *mockInvitationService) DeleteInvitation(ctx context.Context, babyID, invitationID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, babyID, invitationID)
	}
	return nil
}

func (m *mockInvitationService) InvitationQRCode(ctx context.Context, babyID, invitationID string) ([]byte, error) {
	if m.qrcodeFn != nil {
		return m.qrcodeFn(ctx, babyID, invitationID)
	}
	return nil, nil
}

// --- ヘルパー ---

// withActor はリクエストのコンテキストに操作者を注入する。
func withActor(req *http.Request, userID string) *http.Request {
	ctx := access.WithActor(req.Context(), access.Actor{UserID: userID, OpenID: "openid-" + userID})
	return req.WithContext(ctx)
}

// withURLParams はchiのURLパラメータをリクエストに設定する。
func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// newJSONRequest はJSONボディ付きのリクエストを生成する。
func newJSONRequest(method, path, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// decodeErrorBody はエラーレスポンスのボディをデコードする。
func decodeErrorBody(t *testing.T, resp *http.Response) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// assertErrorResponse はステータスコードとエラーコードを検証する。
func assertErrorResponse(t *testing.T, resp *http.Response, wantStatus int, wantCode string) middleware.ErrorResponseBody {
	t.Helper()
	if resp.StatusCode != wantStatus {
		t.Errorf("status = %d, want %d", resp.StatusCode, wantStatus)
	}
	body := decodeErrorBody(t, resp)
	if body.Code != wantCode {
		t.Errorf("code = %q, want %q", body.Code, wantCode)
	}
	return body
}
