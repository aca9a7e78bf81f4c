// Package auth はWeChatログイン、セッションの発行と検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/babyfamily/internal/access"
	"github.com/hitoshi/babyfamily/internal/clock"
	"github.com/hitoshi/babyfamily/internal/metrics"
	"github.com/hitoshi/babyfamily/internal/model"
	"github.com/hitoshi/babyfamily/internal/repository"
	"github.com/hitoshi/babyfamily/internal/wechat"
)

// DefaultSessionValidity はログインセッションの有効期間。
const DefaultSessionValidity = 30 * 24 * time.Hour

// IdentityProvider はログインコードを外部IDに交換する外部プロバイダのインターフェース。
type IdentityProvider interface {
	Code2Session(ctx context.Context, code string) (*wechat.SessionInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionValidity time.Duration
}

// LoginResult はログイン結果を表す。
type LoginResult struct {
	UserID    string
	OpenID    string
	IsNewUser bool
	ExpiresAt time.Time
}

// SessionStatus はセッションの有効性を表す。
type SessionStatus struct {
	Valid     bool
	ExpiresAt *time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	idp         IdentityProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	clock       clock.Clock
	metrics     metrics.MetricsCollector
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	idp IdentityProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	clk clock.Clock,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.SessionValidity <= 0 {
		config.SessionValidity = DefaultSessionValidity
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		idp:         idp,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		clock:       clk,
		metrics:     collector,
		config:      config,
	}
}

// Login はログインコードを外部IDに交換し、ユーザーを特定してセッションを発行する。
// 未登録の外部IDの場合はユーザーを作成し、IsNewUserをtrueにする。
// 同じ外部IDの既存セッションは上書きされる。
func (s *Service) Login(ctx context.Context, code string) (*LoginResult, error) {
	if code == "" {
		return nil, model.NewValidationError(map[string]string{"code": "必須項目です。"})
	}

	// 1. ログインコードを外部IDに交換
	info, err := s.idp.Code2Session(ctx, code)
	if err != nil {
		attrs := []any{slog.String("error", err.Error())}
		var wxErr *wechat.APIError
		if errors.As(err, &wxErr) {
			attrs = append(attrs, slog.Int("errcode", wxErr.ErrCode))
		}
		slog.ErrorContext(ctx, "ログインコードの交換に失敗しました", attrs...)
		return nil, model.NewExternalProviderError()
	}

	// 2. ユーザーを特定、未登録なら作成
	user, isNew, err := s.findOrCreateUser(ctx, info)
	if err != nil {
		return nil, err
	}

	// 3. セッションを発行
	now := s.clock.Now()
	session := &model.Session{
		OpenID:     info.OpenID,
		UserID:     user.ID,
		SessionKey: info.SessionKey,
		UnionID:    info.UnionID,
		ExpiresAt:  now.Add(s.config.SessionValidity),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.sessionRepo.Upsert(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.metrics.RecordLogin(isNew)
	slog.InfoContext(ctx, "ユーザーがログインしました",
		slog.String("user_id", user.ID),
		slog.Bool("new_user", isNew),
	)

	return &LoginResult{
		UserID:    user.ID,
		OpenID:    info.OpenID,
		IsNewUser: isNew,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// findOrCreateUser はOpenIDのユーザーを返す。存在しない場合は作成し、isNewをtrueで返す。
// 同時ログインで作成が競合した場合は既存ユーザーを読み直し、isNewはfalseになる。
func (s *Service) findOrCreateUser(ctx context.Context, info *wechat.SessionInfo) (*model.User, bool, error) {
	user, err := s.userRepo.FindByOpenID(ctx, info.OpenID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, false, nil
	}

	now := s.clock.Now()
	user = &model.User{
		ID:        uuid.New().String(),
		OpenID:    info.OpenID,
		UnionID:   info.UnionID,
		Nickname:  model.DefaultNickname,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.userRepo.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		existing, findErr := s.userRepo.FindByOpenID(ctx, info.OpenID)
		if findErr != nil {
			return nil, false, fmt.Errorf("failed to find user: %w", findErr)
		}
		if existing == nil {
			return nil, false, fmt.Errorf("user for openid vanished after duplicate insert")
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	slog.InfoContext(ctx, "新規ユーザーを作成しました", slog.String("user_id", user.ID))
	return user, true, nil
}

// Resolve は外部IDを検証し、リクエストの実行者を返す。
// 外部IDが空、ユーザー未登録、セッションが存在しないか期限切れの場合はUnauthenticatedを返す。
func (s *Service) Resolve(ctx context.Context, openID string) (access.Actor, error) {
	if openID == "" {
		return access.Actor{}, model.NewUnauthenticatedError("ログイン情報がありません。")
	}

	user, err := s.userRepo.FindByOpenID(ctx, openID)
	if err != nil {
		return access.Actor{}, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return access.Actor{}, model.NewUnauthenticatedError("ユーザーが登録されていません。")
	}

	session, err := s.sessionRepo.FindByOpenID(ctx, openID)
	if err != nil {
		return access.Actor{}, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || !session.IsValidAt(s.clock.Now()) {
		return access.Actor{}, model.NewUnauthenticatedError("セッションの有効期限が切れています。")
	}

	return access.Actor{UserID: user.ID, OpenID: openID}, nil
}

// CheckSession は外部IDのセッションが有効かを返す。状態は変更しない。
func (s *Service) CheckSession(ctx context.Context, openID string) (*SessionStatus, error) {
	if openID == "" {
		return &SessionStatus{Valid: false}, nil
	}

	session, err := s.sessionRepo.FindByOpenID(ctx, openID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return &SessionStatus{Valid: false}, nil
	}

	expiresAt := session.ExpiresAt
	return &SessionStatus{
		Valid:     session.IsValidAt(s.clock.Now()),
		ExpiresAt: &expiresAt,
	}, nil
}

// Logout は現在の実行者のセッションを破棄する。
func (s *Service) Logout(ctx context.Context) error {
	actor, err := access.CurrentActor(ctx)
	if err != nil {
		return err
	}

	if err := s.sessionRepo.DeleteByOpenID(ctx, actor.OpenID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.InfoContext(ctx, "ユーザーがログアウトしました", slog.String("user_id", actor.UserID))
	return nil
}
