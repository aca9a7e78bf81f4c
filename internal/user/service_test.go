package user

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/babyfamily/internal/access"
	"github.com/hitoshi/babyfamily/internal/model"
	"github.com/hitoshi/babyfamily/internal/security"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn      func(ctx context.Context, id string) (*model.User, error)
	updateProfileFn func(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByOpenID(ctx context.Context, openID string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	return nil
}
func (m *mockUserRepo) UpdateProfile(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	return m.updateProfileFn(ctx, id, patch)
}

func withActor(userID string) context.Context {
	return access.WithActor(context.Background(), access.Actor{UserID: userID, OpenID: "openid-" + userID})
}

func strPtr(s string) *string { return &s }

// --- GetProfile ---

func TestGetProfile(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Nickname: "ママ"}, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	user, err := svc.GetProfile(withActor("user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "user-1" || user.Nickname != "ママ" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{}, security.NewTextSanitizer())

	_, err := svc.GetProfile(withActor("user-1"))
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("expected USER_NOT_FOUND, got %v", err)
	}
}

func TestGetProfile_Unauthenticated(t *testing.T) {
	svc := NewService(&mockUserRepo{}, security.NewTextSanitizer())

	_, err := svc.GetProfile(context.Background())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUnauthenticated {
		t.Errorf("expected UNAUTHENTICATED, got %v", err)
	}
}

// --- UpdateProfile ---

func TestUpdateProfile_SanitizesFields(t *testing.T) {
	var gotPatch model.UserPatch
	repo := &mockUserRepo{
		updateProfileFn: func(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
			gotPatch = patch
			return &model.User{ID: id, Nickname: *patch.Nickname}, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	user, err := svc.UpdateProfile(withActor("user-1"), model.UserPatch{Nickname: strPtr("<script>x</script>パパ")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Nickname != "パパ" {
		t.Errorf("Nickname = %q, want パパ", user.Nickname)
	}
	if gotPatch.Phone != nil || gotPatch.AvatarURL != nil {
		t.Errorf("unspecified fields must stay nil: %+v", gotPatch)
	}
}

func TestUpdateProfile_EmptyPatchReturnsCurrent(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Nickname: "ママ"}, nil
		},
		updateProfileFn: func(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
			t.Fatal("UpdateProfile should not be called")
			return nil, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	user, err := svc.UpdateProfile(withActor("user-1"), model.UserPatch{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Nickname != "ママ" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestUpdateProfile_RepositoryError(t *testing.T) {
	repo := &mockUserRepo{
		updateProfileFn: func(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
			return nil, errors.New("db error")
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	_, err := svc.UpdateProfile(withActor("user-1"), model.UserPatch{Phone: strPtr("090")})
	if err == nil {
		t.Fatal("expected error")
	}
}

// タグのみのニックネームは無害化後に空となるため更新しない
func TestUpdateProfile_TagOnlyNicknameIsRejected(t *testing.T) {
	repo := &mockUserRepo{
		updateProfileFn: func(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
			t.Fatal("UpdateProfile must not be called")
			return nil, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	_, err := svc.UpdateProfile(withActor("user-1"), model.UserPatch{Nickname: strPtr("<b></b>")})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
	if apiErr.Details["nickname"] == "" {
		t.Errorf("details should include nickname: %v", apiErr.Details)
	}
}
