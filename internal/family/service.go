// Package family は赤ちゃんと家族メンバー（家族関係グラフ）のドメインロジックを提供する。
package family

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/babyfamily/internal/access"
	"github.com/hitoshi/babyfamily/internal/clock"
	"github.com/hitoshi/babyfamily/internal/model"
	"github.com/hitoshi/babyfamily/internal/repository"
	"github.com/hitoshi/babyfamily/internal/security"
)

// Authorizer は赤ちゃん単位の認可ゲート。access.Gateが実装する。
type Authorizer interface {
	RequireMember(ctx context.Context, babyID string) error
	RequireAdmin(ctx context.Context, babyID string) error
}

// CreateBabyInput は赤ちゃん作成の入力。
// RelationとRelationDisplayは作成者自身の続柄。
type CreateBabyInput struct {
	Name            string
	Gender          string
	BirthDate       *time.Time
	AvatarURL       string
	Relation        string
	RelationDisplay string
}

// AddMemberInput は家族メンバー追加の入力。
type AddMemberInput struct {
	UserID          string
	Relation        string
	RelationDisplay string
	IsAdmin         bool
}

// Service は赤ちゃんと家族関係のサービス層。
type Service struct {
	babies    repository.BabyRepository
	members   repository.MembershipRepository
	users     repository.UserRepository
	gate      Authorizer
	sanitizer security.TextSanitizer
	clock     clock.Clock
}

// NewService はServiceを生成する。
func NewService(
	babies repository.BabyRepository,
	members repository.MembershipRepository,
	users repository.UserRepository,
	gate Authorizer,
	sanitizer security.TextSanitizer,
	clk clock.Clock,
) *Service {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		babies:    babies,
		members:   members,
		users:     users,
		gate:      gate,
		sanitizer: sanitizer,
		clock:     clk,
	}
}

// CreateBaby は赤ちゃんを作成し、操作者を管理者として家族に登録する。
func (s *Service) CreateBaby(ctx context.Context, in CreateBabyInput) (*model.BabyWithRole, error) {
	actor, err := access.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}

	name := s.sanitizer.SanitizeText(in.Name)
	relation := s.sanitizer.SanitizeText(in.Relation)
	if err := model.RequireText(map[string]string{"name": name, "relation": relation}); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	baby := &model.Baby{
		ID:        uuid.New().String(),
		Name:      name,
		Gender:    in.Gender,
		BirthDate: in.BirthDate,
		AvatarURL: in.AvatarURL,
		CreatedBy: actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	creator := &model.Membership{
		ID:              uuid.New().String(),
		BabyID:          baby.ID,
		UserID:          actor.UserID,
		Relation:        relation,
		RelationDisplay: s.sanitizer.SanitizeText(in.RelationDisplay),
		IsAdmin:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.babies.CreateWithCreator(ctx, baby, creator); err != nil {
		return nil, fmt.Errorf("赤ちゃんの作成に失敗しました: %w", err)
	}

	slog.InfoContext(ctx, "赤ちゃんを作成しました",
		slog.String("baby_id", baby.ID),
		slog.String("user_id", actor.UserID),
	)

	return &model.BabyWithRole{
		Baby:            *baby,
		Relation:        creator.Relation,
		RelationDisplay: creator.RelationDisplay,
		IsAdmin:         true,
	}, nil
}

// GetBaby は赤ちゃんの詳細を操作者の続柄付きで返す。家族メンバーのみ参照できる。
func (s *Service) GetBaby(ctx context.Context, babyID string) (*model.BabyWithRole, error) {
	if err := s.gate.RequireMember(ctx, babyID); err != nil {
		return nil, err
	}
	actor, err := access.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}

	baby, err := s.findBaby(ctx, babyID)
	if err != nil {
		return nil, err
	}

	m, err := s.members.FindByBabyAndUser(ctx, babyID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("家族関係の取得に失敗しました: %w", err)
	}
	if m == nil {
		return nil, model.NewNotMemberError()
	}

	return &model.BabyWithRole{
		Baby:            *baby,
		Relation:        m.Relation,
		RelationDisplay: m.RelationDisplay,
		IsAdmin:         m.IsAdmin,
	}, nil
}

// ListBabies は操作者が家族として所属する赤ちゃんの一覧を返す。
func (s *Service) ListBabies(ctx context.Context) ([]model.BabyWithRole, error) {
	actor, err := access.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListSubjectsForUser(ctx, actor.UserID)
}

// ListSubjectsForUser はユーザーが家族として所属する赤ちゃんの一覧を返す。
func (s *Service) ListSubjectsForUser(ctx context.Context, userID string) ([]model.BabyWithRole, error) {
	babies, err := s.babies.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("赤ちゃん一覧の取得に失敗しました: %w", err)
	}
	if babies == nil {
		babies = []model.BabyWithRole{}
	}
	return babies, nil
}

// UpdateBaby は赤ちゃん情報を部分更新する。管理者のみ実行できる。
func (s *Service) UpdateBaby(ctx context.Context, babyID string, patch model.BabyPatch) (*model.Baby, error) {
	if err := s.gate.RequireAdmin(ctx, babyID); err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := s.sanitizer.SanitizeText(*patch.Name)
		if err := model.RequireText(map[string]string{"name": name}); err != nil {
			return nil, err
		}
		patch.Name = &name
	}

	baby, err := s.babies.Update(ctx, babyID, patch)
	if err != nil {
		return nil, fmt.Errorf("赤ちゃん情報の更新に失敗しました: %w", err)
	}
	if baby == nil {
		return nil, model.NewBabyNotFoundError(babyID)
	}

	slog.InfoContext(ctx, "赤ちゃん情報を更新しました", slog.String("baby_id", babyID))
	return baby, nil
}

// DeleteBaby は赤ちゃんを削除する。家族関係と招待もあわせて削除される。管理者のみ実行できる。
func (s *Service) DeleteBaby(ctx context.Context, babyID string) error {
	if err := s.gate.RequireAdmin(ctx, babyID); err != nil {
		return err
	}

	deleted, err := s.babies.Delete(ctx, babyID)
	if err != nil {
		return fmt.Errorf("赤ちゃんの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewBabyNotFoundError(babyID)
	}

	slog.InfoContext(ctx, "赤ちゃんを削除しました", slog.String("baby_id", babyID))
	return nil
}

// AddMember はユーザーを家族メンバーとして追加する。管理者のみ実行できる。
// 既に家族関係がある場合は挿入時の一意制約違反によりConflictを返す。
func (s *Service) AddMember(ctx context.Context, babyID string, in AddMemberInput) (*model.Membership, error) {
	if err := s.gate.RequireAdmin(ctx, babyID); err != nil {
		return nil, err
	}

	relation := s.sanitizer.SanitizeText(in.Relation)
	if err := model.RequireText(map[string]string{"relation": relation}); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	now := s.clock.Now()
	m := &model.Membership{
		ID:              uuid.New().String(),
		BabyID:          babyID,
		UserID:          in.UserID,
		Relation:        relation,
		RelationDisplay: s.sanitizer.SanitizeText(in.RelationDisplay),
		IsAdmin:         in.IsAdmin,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.members.Create(ctx, m)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, model.NewAlreadyMemberError()
	}
	if err != nil {
		return nil, fmt.Errorf("家族メンバーの追加に失敗しました: %w", err)
	}

	slog.InfoContext(ctx, "家族メンバーを追加しました",
		slog.String("baby_id", babyID),
		slog.String("user_id", in.UserID),
		slog.Bool("is_admin", in.IsAdmin),
	)
	return m, nil
}

// RemoveMember は家族メンバーを削除する。管理者のみ実行できる。
// 赤ちゃんの作成者は管理者フラグに関わらず削除できない。
func (s *Service) RemoveMember(ctx context.Context, babyID, userID string) error {
	if err := s.gate.RequireAdmin(ctx, babyID); err != nil {
		return err
	}

	baby, err := s.findBaby(ctx, babyID)
	if err != nil {
		return err
	}
	if baby.CreatedBy == userID {
		return model.NewCreatorProtectedError()
	}

	deleted, err := s.members.Delete(ctx, babyID, userID)
	if err != nil {
		return fmt.Errorf("家族メンバーの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewMemberNotFoundError(userID)
	}

	slog.InfoContext(ctx, "家族メンバーを削除しました",
		slog.String("baby_id", babyID),
		slog.String("user_id", userID),
	)
	return nil
}

// UpdateMemberRole は家族メンバーの続柄と管理者フラグを部分更新する。管理者のみ実行できる。
// RemoveMemberと異なり作成者の保護は行わないため、作成者の管理者フラグも外せる。
func (s *Service) UpdateMemberRole(ctx context.Context, babyID, userID string, patch model.MembershipPatch) (*model.Membership, error) {
	if err := s.gate.RequireAdmin(ctx, babyID); err != nil {
		return nil, err
	}

	if patch.Relation != nil {
		v := s.sanitizer.SanitizeText(*patch.Relation)
		if err := model.RequireText(map[string]string{"relation": v}); err != nil {
			return nil, err
		}
		patch.Relation = &v
	}
	if patch.RelationDisplay != nil {
		v := s.sanitizer.SanitizeText(*patch.RelationDisplay)
		patch.RelationDisplay = &v
	}

	var (
		m   *model.Membership
		err error
	)
	if patch.IsEmpty() {
		m, err = s.members.FindByBabyAndUser(ctx, babyID, userID)
	} else {
		m, err = s.members.Update(ctx, babyID, userID, patch)
	}
	if err != nil {
		return nil, fmt.Errorf("家族メンバーの更新に失敗しました: %w", err)
	}
	if m == nil {
		return nil, model.NewMemberNotFoundError(userID)
	}

	attrs := []any{slog.String("baby_id", babyID), slog.String("user_id", userID)}
	if patch.IsAdmin != nil {
		attrs = append(attrs, slog.Bool("is_admin", *patch.IsAdmin))
	}
	slog.InfoContext(ctx, "家族メンバーの役割を更新しました", attrs...)
	return m, nil
}

// ListMembers は赤ちゃんの家族メンバー一覧を返す。家族メンバーのみ参照できる。
func (s *Service) ListMembers(ctx context.Context, babyID string) ([]model.MemberWithUser, error) {
	if err := s.gate.RequireMember(ctx, babyID); err != nil {
		return nil, err
	}

	members, err := s.members.ListByBabyID(ctx, babyID)
	if err != nil {
		return nil, fmt.Errorf("家族メンバー一覧の取得に失敗しました: %w", err)
	}
	if members == nil {
		members = []model.MemberWithUser{}
	}
	return members, nil
}

func (s *Service) findBaby(ctx context.Context, babyID string) (*model.Baby, error) {
	baby, err := s.babies.FindByID(ctx, babyID)
	if err != nil {
		return nil, fmt.Errorf("赤ちゃんの取得に失敗しました: %w", err)
	}
	if baby == nil {
		return nil, model.NewBabyNotFoundError(babyID)
	}
	return baby, nil
}
