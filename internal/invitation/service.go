// Package invitation は招待コードの発行・一覧・引き換え・削除を提供する。
//
// 招待の状態遷移は active → expired と active → used の2種類で、どちらも終端状態。
// 期限切れへの遷移はバックグラウンドで行わず、一覧・プレビュー・引き換えの
// 各操作の中で遅延適用する。
package invitation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/babyfamily/internal/access"
	"github.com/hitoshi/babyfamily/internal/clock"
	"github.com/hitoshi/babyfamily/internal/metrics"
	"github.com/hitoshi/babyfamily/internal/model"
	"github.com/hitoshi/babyfamily/internal/repository"
	"github.com/hitoshi/babyfamily/internal/security"
)

const (
	// DefaultValidDays は有効日数が指定されなかった場合の有効期間。
	DefaultValidDays = 7
	// DefaultCodeLength は招待コードの文字数。
	DefaultCodeLength = 8
	// MaxCodeAttempts はコード衝突時の再生成を含む最大試行回数。
	MaxCodeAttempts = 5

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// 引き換え結果のメトリクスラベル。
const (
	outcomeSuccess      = "success"
	outcomeNotFound     = "not_found"
	outcomeInvalidState = "invalid_state"
	outcomeExpired      = "expired"
	outcomeConflict     = "conflict"
	outcomeError        = "error"
)

// Authorizer は赤ちゃん単位の認可ゲート。
type Authorizer interface {
	RequireAdmin(ctx context.Context, babyID string) error
}

// BabyFinder は赤ちゃん情報の取得インターフェース。
type BabyFinder interface {
	FindByID(ctx context.Context, id string) (*model.Baby, error)
}

// QRCoder は招待コードを埋め込んだ小程序コード画像を生成する。wechat.QRCodeServiceが実装する。
type QRCoder interface {
	Generate(ctx context.Context, scene string) ([]byte, error)
}

// Config は招待サービスの設定。
type Config struct {
	DefaultValidDays int
	CodeLength       int
}

// Service は招待コードのサービス層。
type Service struct {
	invitations repository.InvitationRepository
	babies      BabyFinder
	gate        Authorizer
	qr          QRCoder
	sanitizer   security.TextSanitizer
	clock       clock.Clock
	metrics     metrics.MetricsCollector
	validDays   int
	codeLength  int
	newCode     func(length int) (string, error)
}

// NewService はServiceを生成する。
func NewService(
	invitations repository.InvitationRepository,
	babies BabyFinder,
	gate Authorizer,
	qr QRCoder,
	sanitizer security.TextSanitizer,
	clk clock.Clock,
	collector metrics.MetricsCollector,
	cfg Config,
) *Service {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if cfg.DefaultValidDays <= 0 {
		cfg.DefaultValidDays = DefaultValidDays
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = DefaultCodeLength
	}
	return &Service{
		invitations: invitations,
		babies:      babies,
		gate:        gate,
		qr:          qr,
		sanitizer:   sanitizer,
		clock:       clk,
		metrics:     collector,
		validDays:   cfg.DefaultValidDays,
		codeLength:  cfg.CodeLength,
		newCode:     GenerateCode,
	}
}

// GenerateCode は暗号論的乱数から英大文字と数字のみで構成されるコードを生成する。
func GenerateCode(length int) (string, error) {
	base := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to read random: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// CreateInvitation は招待コードを発行する。管理者のみ実行できる。
// validDaysがnilの場合は既定の有効日数を使用し、0の場合は発行時刻で即座に期限切れとなる。
func (s *Service) CreateInvitation(ctx context.Context, babyID string, validDays *int) (*model.Invitation, error) {
	if err := s.gate.RequireAdmin(ctx, babyID); err != nil {
		return nil, err
	}
	actor, err := access.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}

	days := s.validDays
	if validDays != nil {
		if *validDays < 0 {
			return nil, model.NewValidationError(map[string]string{"validDays": "0以上で指定してください。"})
		}
		days = *validDays
	}

	now := s.clock.Now()
	inv := &model.Invitation{
		ID:        uuid.New().String(),
		BabyID:    babyID,
		CreatedBy: actor.UserID,
		ExpireAt:  now.Add(time.Duration(days) * 24 * time.Hour),
		Status:    model.InvitationActive,
		CreatedAt: now,
	}

	for attempt := 1; attempt <= MaxCodeAttempts; attempt++ {
		code, err := s.newCode(s.codeLength)
		if err != nil {
			return nil, fmt.Errorf("招待コードの生成に失敗しました: %w", err)
		}

		exists, err := s.invitations.ExistsByCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("招待コードの重複確認に失敗しました: %w", err)
		}
		if exists {
			continue
		}

		inv.Code = code
		err = s.invitations.Create(ctx, inv)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("招待の作成に失敗しました: %w", err)
		}

		slog.InfoContext(ctx, "招待コードを発行しました",
			slog.String("baby_id", babyID),
			slog.String("invitation_id", inv.ID),
			slog.Time("expire_at", inv.ExpireAt),
		)
		return inv, nil
	}

	slog.WarnContext(ctx, "招待コードの生成が上限回数に達しました",
		slog.String("baby_id", babyID),
		slog.Int("attempts", MaxCodeAttempts),
	)
	return nil, model.NewInvitationCodeExhaustedError()
}

// ListInvitations は赤ちゃんの招待一覧を返す。管理者のみ実行できる。
// 返却前に期限を過ぎたactiveな招待をexpiredに遷移する。
func (s *Service) ListInvitations(ctx context.Context, babyID string) ([]*model.Invitation, error) {
	if err := s.gate.RequireAdmin(ctx, babyID); err != nil {
		return nil, err
	}

	n, err := s.invitations.ExpireOverdue(ctx, babyID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("期限切れ招待の更新に失敗しました: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "期限切れの招待を更新しました",
			slog.String("baby_id", babyID),
			slog.Int64("count", n),
		)
	}

	invitations, err := s.invitations.ListByBabyID(ctx, babyID)
	if err != nil {
		return nil, fmt.Errorf("招待一覧の取得に失敗しました: %w", err)
	}
	if invitations == nil {
		invitations = []*model.Invitation{}
	}
	return invitations, nil
}

// ResolveInvitation は招待コード入力画面向けのプレビューを返す。ログイン済みであれば誰でも参照できる。
func (s *Service) ResolveInvitation(ctx context.Context, code string) (*model.InvitationPreview, error) {
	if _, err := access.CurrentActor(ctx); err != nil {
		return nil, err
	}

	inv, err := s.invitations.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("招待の取得に失敗しました: %w", err)
	}
	if inv == nil {
		return nil, model.NewInvitationNotFoundError()
	}

	if inv.IsExpiredAt(s.clock.Now()) {
		if err := s.invitations.MarkExpired(ctx, inv.ID); err != nil {
			return nil, fmt.Errorf("招待の期限切れ更新に失敗しました: %w", err)
		}
		inv.Status = model.InvitationExpired
	}

	baby, err := s.babies.FindByID(ctx, inv.BabyID)
	if err != nil {
		return nil, fmt.Errorf("赤ちゃんの取得に失敗しました: %w", err)
	}
	if baby == nil {
		return nil, model.NewInvitationNotFoundError()
	}

	return &model.InvitationPreview{
		Code:     inv.Code,
		BabyID:   inv.BabyID,
		BabyName: baby.Name,
		ExpireAt: inv.ExpireAt,
		Status:   inv.Status,
	}, nil
}

// RedeemInvitation は招待コードを引き換え、操作者を家族メンバー（非管理者）として追加する。
//
// 判定は NotFound → InvalidState → Expired → Conflict の順に行う。
// 期限切れの場合は状態遷移をコミットしてからExpiredを返す。
// 同一コードへの同時引き換えは行ロックで直列化され、成功するのは1件のみ。
func (s *Service) RedeemInvitation(ctx context.Context, code, relation, relationDisplay string) (*model.BabyWithRole, error) {
	actor, err := access.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}

	relation = s.sanitizer.SanitizeText(relation)
	relationDisplay = s.sanitizer.SanitizeText(relationDisplay)
	if err := model.RequireText(map[string]string{"relation": relation}); err != nil {
		return nil, err
	}

	var (
		membership *model.Membership
		expired    bool
	)
	err = s.invitations.RunInTx(ctx, func(tx repository.RedemptionTx) error {
		inv, err := tx.FindByCodeForUpdate(ctx, code)
		if err != nil {
			return fmt.Errorf("招待の取得に失敗しました: %w", err)
		}
		if inv == nil {
			return model.NewInvitationNotFoundError()
		}
		if inv.Status != model.InvitationActive {
			return model.NewInvitationInvalidStateError()
		}

		now := s.clock.Now()
		if inv.IsExpiredAt(now) {
			if err := tx.MarkExpired(ctx, inv.ID); err != nil {
				return fmt.Errorf("招待の期限切れ更新に失敗しました: %w", err)
			}
			// 状態遷移はコミットし、エラーはトランザクション外で返す
			expired = true
			return nil
		}

		existing, err := tx.FindMembership(ctx, inv.BabyID, actor.UserID)
		if err != nil {
			return fmt.Errorf("家族関係の取得に失敗しました: %w", err)
		}
		if existing != nil {
			return model.NewAlreadyMemberError()
		}

		m := &model.Membership{
			ID:              uuid.New().String(),
			BabyID:          inv.BabyID,
			UserID:          actor.UserID,
			Relation:        relation,
			RelationDisplay: relationDisplay,
			IsAdmin:         false,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err = tx.CreateMembership(ctx, m)
		if errors.Is(err, repository.ErrDuplicate) {
			return model.NewAlreadyMemberError()
		}
		if err != nil {
			return fmt.Errorf("家族関係の作成に失敗しました: %w", err)
		}

		if err := tx.MarkUsed(ctx, inv.ID, actor.UserID, now); err != nil {
			return fmt.Errorf("招待の使用済み更新に失敗しました: %w", err)
		}
		membership = m
		return nil
	})
	if err != nil {
		s.metrics.RecordRedemption(redemptionOutcome(err))
		return nil, err
	}
	if expired {
		s.metrics.RecordRedemption(outcomeExpired)
		slog.InfoContext(ctx, "期限切れの招待コードが使用されました", slog.String("user_id", actor.UserID))
		return nil, model.NewInvitationExpiredError()
	}

	s.metrics.RecordRedemption(outcomeSuccess)
	slog.InfoContext(ctx, "招待コードを引き換えました",
		slog.String("baby_id", membership.BabyID),
		slog.String("user_id", actor.UserID),
	)

	baby, err := s.babies.FindByID(ctx, membership.BabyID)
	if err != nil {
		return nil, fmt.Errorf("赤ちゃんの取得に失敗しました: %w", err)
	}
	if baby == nil {
		return nil, model.NewBabyNotFoundError(membership.BabyID)
	}

	return &model.BabyWithRole{
		Baby:            *baby,
		Relation:        membership.Relation,
		RelationDisplay: membership.RelationDisplay,
		IsAdmin:         false,
	}, nil
}

// DeleteInvitation は招待を削除する。管理者のみ実行できる。
// 指定した赤ちゃんに属さない招待はNotFoundとなる。
func (s *Service) DeleteInvitation(ctx context.Context, babyID, invitationID string) error {
	if err := s.gate.RequireAdmin(ctx, babyID); err != nil {
		return err
	}

	deleted, err := s.invitations.DeleteByIDAndBaby(ctx, invitationID, babyID)
	if err != nil {
		return fmt.Errorf("招待の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewInvitationNotFoundError()
	}

	slog.InfoContext(ctx, "招待を削除しました",
		slog.String("baby_id", babyID),
		slog.String("invitation_id", invitationID),
	)
	return nil
}

// InvitationQRCode は招待コードを埋め込んだ小程序コード画像（PNG）を返す。管理者のみ実行できる。
func (s *Service) InvitationQRCode(ctx context.Context, babyID, invitationID string) ([]byte, error) {
	if err := s.gate.RequireAdmin(ctx, babyID); err != nil {
		return nil, err
	}

	inv, err := s.invitations.FindByIDAndBaby(ctx, invitationID, babyID)
	if err != nil {
		return nil, fmt.Errorf("招待の取得に失敗しました: %w", err)
	}
	if inv == nil {
		return nil, model.NewInvitationNotFoundError()
	}

	return s.qr.Generate(ctx, inv.Code)
}

func redemptionOutcome(err error) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return outcomeError
	}
	switch apiErr.Code {
	case model.ErrCodeInvitationNotFound:
		return outcomeNotFound
	case model.ErrCodeInvitationInvalidState:
		return outcomeInvalidState
	case model.ErrCodeAlreadyMember:
		return outcomeConflict
	default:
		return outcomeError
	}
}
