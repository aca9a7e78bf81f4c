// Package user はユーザープロフィールのドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/babyfamily/internal/access"
	"github.com/hitoshi/babyfamily/internal/model"
	"github.com/hitoshi/babyfamily/internal/repository"
	"github.com/hitoshi/babyfamily/internal/security"
)

// Service はユーザープロフィールのサービス層。
// 操作対象は常にログイン中の操作者自身。
type Service struct {
	userRepo  repository.UserRepository
	sanitizer security.TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{
		userRepo:  userRepo,
		sanitizer: sanitizer,
	}
}

// GetProfile は操作者のプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context) (*model.User, error) {
	actor, err := access.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile は操作者のプロフィールを部分更新する。
// 変更内容がない場合は現在のプロフィールをそのまま返す。
func (s *Service) UpdateProfile(ctx context.Context, patch model.UserPatch) (*model.User, error) {
	actor, err := access.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}

	if patch.Nickname == nil && patch.Phone == nil && patch.AvatarURL == nil {
		return s.GetProfile(ctx)
	}

	if patch.Nickname != nil {
		v := s.sanitizer.SanitizeText(*patch.Nickname)
		if err := model.RequireText(map[string]string{"nickname": v}); err != nil {
			return nil, err
		}
		patch.Nickname = &v
	}
	if patch.Phone != nil {
		v := s.sanitizer.SanitizeText(*patch.Phone)
		patch.Phone = &v
	}

	user, err := s.userRepo.UpdateProfile(ctx, actor.UserID, patch)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.InfoContext(ctx, "プロフィールを更新しました",
		slog.String("user_id", actor.UserID),
	)
	return user, nil
}
