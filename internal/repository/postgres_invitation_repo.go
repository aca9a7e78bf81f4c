package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/babyfamily/internal/model"
)

// PostgresInvitationRepo はPostgreSQLを使用した招待リポジトリ。
type PostgresInvitationRepo struct {
	db *sql.DB
}

// NewPostgresInvitationRepo はPostgresInvitationRepoを生成する。
func NewPostgresInvitationRepo(db *sql.DB) *PostgresInvitationRepo {
	return &PostgresInvitationRepo{db: db}
}

const invitationColumns = `id, baby_id, code, created_by, expire_at, status, used_by, used_at, created_at`

func scanInvitation(row interface{ Scan(...any) error }) (*model.Invitation, error) {
	inv := &model.Invitation{}
	var status string
	var usedBy sql.NullString
	err := row.Scan(
		&inv.ID, &inv.BabyID, &inv.Code, &inv.CreatedBy, &inv.ExpireAt,
		&status, &usedBy, &inv.UsedAt, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = model.InvitationStatus(status)
	inv.UsedBy = usedBy.String
	return inv, nil
}

// markExpired はactiveな招待のみexpiredに遷移する。
func markExpired(ctx context.Context, q queryer, id string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE invitations SET status = 'expired'
		 WHERE id = $1 AND status = 'active'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark invitation expired: %w", err)
	}
	return nil
}

// Create は招待を作成する。コードが重複する場合はErrDuplicateを返す。
func (r *PostgresInvitationRepo) Create(ctx context.Context, inv *model.Invitation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invitations (id, baby_id, code, created_by, expire_at, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.BabyID, inv.Code, inv.CreatedBy, inv.ExpireAt, string(inv.Status), inv.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert invitation: %w", err)
	}
	return nil
}

// ExistsByCode は指定コードの招待が存在するかを返す。
func (r *PostgresInvitationRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM invitations WHERE code = $1)`,
		code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check invitation code: %w", err)
	}
	return exists, nil
}

// FindByCode はコードで招待を取得する。見つからない場合はnilを返す。
func (r *PostgresInvitationRepo) FindByCode(ctx context.Context, code string) (*model.Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE code = $1`,
		code,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invitation by code: %w", err)
	}
	return inv, nil
}

// FindByIDAndBaby は赤ちゃんに属する指定IDの招待を取得する。見つからない場合はnilを返す。
func (r *PostgresInvitationRepo) FindByIDAndBaby(ctx context.Context, id, babyID string) (*model.Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1 AND baby_id = $2`,
		id, babyID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invitation by ID: %w", err)
	}
	return inv, nil
}

// ListByBabyID は赤ちゃんの招待一覧を作成日時の降順で返す。
func (r *PostgresInvitationRepo) ListByBabyID(ctx context.Context, babyID string) ([]*model.Invitation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invitationColumns+`
		 FROM invitations
		 WHERE baby_id = $1
		 ORDER BY created_at DESC`,
		babyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*model.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}

	return invitations, nil
}

// ExpireOverdue は赤ちゃんのactiveな招待のうち、now時点で期限を過ぎたものをexpiredに遷移する。
func (r *PostgresInvitationRepo) ExpireOverdue(ctx context.Context, babyID string, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE invitations SET status = 'expired'
		 WHERE baby_id = $1 AND status = 'active' AND expire_at <= $2`,
		babyID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue invitations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// MarkExpired はactiveな招待をexpiredに遷移する。active以外の場合は何もしない。
func (r *PostgresInvitationRepo) MarkExpired(ctx context.Context, id string) error {
	return markExpired(ctx, r.db, id)
}

// DeleteByIDAndBaby は赤ちゃんに属する招待を削除する。削除対象が存在しない場合はfalseを返す。
func (r *PostgresInvitationRepo) DeleteByIDAndBaby(ctx context.Context, id, babyID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE id = $1 AND baby_id = $2`,
		id, babyID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete invitation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// RunInTx は引き換え処理用のトランザクションを開始し、fnがnilを返した場合のみコミットする。
func (r *PostgresInvitationRepo) RunInTx(ctx context.Context, fn func(tx RedemptionTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresRedemptionTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// postgresRedemptionTx は*sql.Tx上でRedemptionTxを実装する。
type postgresRedemptionTx struct {
	tx *sql.Tx
}

// FindByCodeForUpdate はコードで招待を取得し、行ロックを保持する。
// 同じコードを引き換えようとする他のトランザクションはコミットまで待機する。
func (t *postgresRedemptionTx) FindByCodeForUpdate(ctx context.Context, code string) (*model.Invitation, error) {
	inv, err := scanInvitation(t.tx.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE code = $1 FOR UPDATE`,
		code,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invitation: %w", err)
	}
	return inv, nil
}

// MarkExpired は招待をexpiredに遷移する。
func (t *postgresRedemptionTx) MarkExpired(ctx context.Context, id string) error {
	return markExpired(ctx, t.tx, id)
}

// MarkUsed は招待をusedに遷移し、引き換えたユーザーと日時を記録する。
func (t *postgresRedemptionTx) MarkUsed(ctx context.Context, id, userID string, usedAt time.Time) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE invitations SET status = 'used', used_by = $2, used_at = $3
		 WHERE id = $1 AND status = 'active'`,
		id, userID, usedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark invitation used: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to mark invitation used: invitation %s is no longer active", id)
	}

	return nil
}

// FindMembership は赤ちゃんとユーザーの家族関係を取得する。見つからない場合はnilを返す。
func (t *postgresRedemptionTx) FindMembership(ctx context.Context, babyID, userID string) (*model.Membership, error) {
	return findMembership(ctx, t.tx, babyID, userID)
}

// CreateMembership は家族関係を作成する。同じ組が既に存在する場合はErrDuplicateを返す。
func (t *postgresRedemptionTx) CreateMembership(ctx context.Context, m *model.Membership) error {
	return insertMembership(ctx, t.tx, m)
}

// compile-time interface check
var (
	_ InvitationRepository = (*PostgresInvitationRepo)(nil)
	_ RedemptionTx         = (*postgresRedemptionTx)(nil)
)
