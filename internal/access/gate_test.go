package access

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/babyfamily/internal/model"
)

// --- モック定義 ---

type mockMembershipFinder struct {
	findFn func(ctx context.Context, babyID, userID string) (*model.Membership, error)
	calls  int
}

func (m *mockMembershipFinder) FindByBabyAndUser(ctx context.Context, babyID, userID string) (*model.Membership, error) {
	m.calls++
	if m.findFn != nil {
		return m.findFn(ctx, babyID, userID)
	}
	return nil, nil
}

type mockDenialRecorder struct {
	reasons []string
}

func (m *mockDenialRecorder) RecordLogin(bool)               {}
func (m *mockDenialRecorder) RecordTokenCacheHit()           {}
func (m *mockDenialRecorder) RecordTokenCacheMiss()          {}
func (m *mockDenialRecorder) RecordTokenFetchFailure()       {}
func (m *mockDenialRecorder) RecordTokenStoreFailure(string) {}
func (m *mockDenialRecorder) RecordRedemption(string)        {}
func (m *mockDenialRecorder) RecordHTTPStatus(int)           {}
func (m *mockDenialRecorder) RecordAccessDenied(reason string) {
	m.reasons = append(m.reasons, reason)
}

var _ MembershipFinder = (*mockMembershipFinder)(nil)

func membershipOf(userID string, isAdmin bool) func(ctx context.Context, babyID, uid string) (*model.Membership, error) {
	return func(ctx context.Context, babyID, uid string) (*model.Membership, error) {
		if uid != userID {
			return nil, nil
		}
		return &model.Membership{BabyID: babyID, UserID: uid, IsAdmin: isAdmin}, nil
	}
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

// --- コンテキストのテスト ---

func TestWithActor_RoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{UserID: "user-1", OpenID: "openid-1"})

	actor, ok := ActorFromContext(ctx)
	if !ok {
		t.Fatal("expected actor in context")
	}
	if actor.UserID != "user-1" || actor.OpenID != "openid-1" {
		t.Errorf("actor = %+v, want user-1/openid-1", actor)
	}
}

func TestActorFromContext_Empty(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Error("expected no actor in empty context")
	}
	if _, ok := ActorFromContext(WithActor(context.Background(), Actor{})); ok {
		t.Error("actor without user ID should be treated as absent")
	}
}

func TestCurrentActor_NoActor_ReturnsUnauthenticated(t *testing.T) {
	_, err := CurrentActor(context.Background())
	assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
}

// 親コンテキストの操作者は派生コンテキストにのみ見え、別リクエストのコンテキストには漏れない。
func TestWithActor_DoesNotLeakAcrossContexts(t *testing.T) {
	base := context.Background()
	_ = WithActor(base, Actor{UserID: "user-1"})

	if _, ok := ActorFromContext(base); ok {
		t.Error("actor must not be visible on the parent context")
	}
}

// --- RequireMember ---

func TestRequireMember_Member_Succeeds(t *testing.T) {
	finder := &mockMembershipFinder{findFn: membershipOf("user-1", false)}
	gate := NewGate(finder, nil)

	ctx := WithActor(context.Background(), Actor{UserID: "user-1"})
	if err := gate.RequireMember(ctx, "baby-1"); err != nil {
		t.Fatalf("RequireMember() error = %v", err)
	}
}

func TestRequireMember_NonMember_ReturnsForbidden(t *testing.T) {
	finder := &mockMembershipFinder{findFn: membershipOf("user-1", true)}
	rec := &mockDenialRecorder{}
	gate := NewGate(finder, rec)

	ctx := WithActor(context.Background(), Actor{UserID: "stranger"})
	err := gate.RequireMember(ctx, "baby-1")

	assertAPIErrorCode(t, err, model.ErrCodeForbiddenNotMember)
	if len(rec.reasons) != 1 || rec.reasons[0] != "not_member" {
		t.Errorf("recorded reasons = %v, want [not_member]", rec.reasons)
	}
}

func TestRequireMember_NoActor_ReturnsUnauthenticated(t *testing.T) {
	finder := &mockMembershipFinder{}
	gate := NewGate(finder, nil)

	err := gate.RequireMember(context.Background(), "baby-1")

	assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
	if finder.calls != 0 {
		t.Errorf("repository should not be queried without actor, calls = %d", finder.calls)
	}
}

func TestRequireMember_RepositoryError_IsWrapped(t *testing.T) {
	dbErr := errors.New("connection refused")
	finder := &mockMembershipFinder{
		findFn: func(ctx context.Context, babyID, userID string) (*model.Membership, error) {
			return nil, dbErr
		},
	}
	gate := NewGate(finder, nil)

	ctx := WithActor(context.Background(), Actor{UserID: "user-1"})
	err := gate.RequireMember(ctx, "baby-1")

	if !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want wrapped %v", err, dbErr)
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Error("repository failure must not be reported as an APIError")
	}
}

// --- RequireAdmin ---

func TestRequireAdmin_Admin_Succeeds(t *testing.T) {
	gate := NewGate(&mockMembershipFinder{findFn: membershipOf("user-1", true)}, nil)

	ctx := WithActor(context.Background(), Actor{UserID: "user-1"})
	if err := gate.RequireAdmin(ctx, "baby-1"); err != nil {
		t.Fatalf("RequireAdmin() error = %v", err)
	}
}

func TestRequireAdmin_NonAdminMember_ReturnsForbidden(t *testing.T) {
	rec := &mockDenialRecorder{}
	gate := NewGate(&mockMembershipFinder{findFn: membershipOf("user-1", false)}, rec)

	ctx := WithActor(context.Background(), Actor{UserID: "user-1"})
	err := gate.RequireAdmin(ctx, "baby-1")

	assertAPIErrorCode(t, err, model.ErrCodeForbiddenNotAdmin)
	if len(rec.reasons) != 1 || rec.reasons[0] != "not_admin" {
		t.Errorf("recorded reasons = %v, want [not_admin]", rec.reasons)
	}
}

func TestRequireAdmin_NonMember_ReturnsForbidden(t *testing.T) {
	gate := NewGate(&mockMembershipFinder{}, nil)

	ctx := WithActor(context.Background(), Actor{UserID: "user-1"})
	assertAPIErrorCode(t, gate.RequireAdmin(ctx, "baby-1"), model.ErrCodeForbiddenNotMember)
}

func TestRequireAdmin_NoActor_ReturnsUnauthenticated(t *testing.T) {
	gate := NewGate(&mockMembershipFinder{}, nil)
	assertAPIErrorCode(t, gate.RequireAdmin(context.Background(), "baby-1"), model.ErrCodeUnauthenticated)
}

// 認可はキャッシュされず、権限変更が次の呼び出しで即座に反映される。
func TestRequireAdmin_EvaluatedPerCall(t *testing.T) {
	isAdmin := true
	finder := &mockMembershipFinder{
		findFn: func(ctx context.Context, babyID, userID string) (*model.Membership, error) {
			return &model.Membership{BabyID: babyID, UserID: userID, IsAdmin: isAdmin}, nil
		},
	}
	gate := NewGate(finder, nil)
	ctx := WithActor(context.Background(), Actor{UserID: "user-1"})

	if err := gate.RequireAdmin(ctx, "baby-1"); err != nil {
		t.Fatalf("first RequireAdmin() error = %v", err)
	}

	isAdmin = false
	assertAPIErrorCode(t, gate.RequireAdmin(ctx, "baby-1"), model.ErrCodeForbiddenNotAdmin)

	if finder.calls != 2 {
		t.Errorf("repository calls = %d, want 2", finder.calls)
	}
}
