package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/babyfamily/internal/model"
)

// PostgresMembershipRepo はPostgreSQLを使用した家族関係リポジトリ。
// (baby_id, user_id) の一意性はbaby_family_baby_user_key制約で保証する。
type PostgresMembershipRepo struct {
	db *sql.DB
}

// NewPostgresMembershipRepo はPostgresMembershipRepoを生成する。
func NewPostgresMembershipRepo(db *sql.DB) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: db}
}

// queryer は*sql.DBと*sql.Txの共通操作。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const membershipColumns = `id, baby_id, user_id, relation, relation_display, is_admin, created_at, updated_at`

func scanMembership(row *sql.Row) (*model.Membership, error) {
	m := &model.Membership{}
	var isAdmin int16
	err := row.Scan(
		&m.ID, &m.BabyID, &m.UserID, &m.Relation, &m.RelationDisplay,
		&isAdmin, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.IsAdmin = isAdmin == 1
	return m, nil
}

// adminFlag はis_admin列の0/1表現に変換する。
func adminFlag(isAdmin bool) int16 {
	if isAdmin {
		return 1
	}
	return 0
}

func findMembership(ctx context.Context, q queryer, babyID, userID string) (*model.Membership, error) {
	m, err := scanMembership(q.QueryRowContext(ctx,
		`SELECT `+membershipColumns+`
		 FROM baby_family
		 WHERE baby_id = $1 AND user_id = $2`,
		babyID, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return m, nil
}

func insertMembership(ctx context.Context, q queryer, m *model.Membership) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO baby_family (id, baby_id, user_id, relation, relation_display, is_admin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.BabyID, m.UserID, m.Relation, m.RelationDisplay,
		adminFlag(m.IsAdmin), m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}

// FindByBabyAndUser は赤ちゃんとユーザーの家族関係を取得する。見つからない場合はnilを返す。
func (r *PostgresMembershipRepo) FindByBabyAndUser(ctx context.Context, babyID, userID string) (*model.Membership, error) {
	return findMembership(ctx, r.db, babyID, userID)
}

// Create は家族関係を作成する。同じ組が既に存在する場合はErrDuplicateを返す。
func (r *PostgresMembershipRepo) Create(ctx context.Context, m *model.Membership) error {
	return insertMembership(ctx, r.db, m)
}

// Update は家族関係を部分更新する。見つからない場合はnilを返す。
func (r *PostgresMembershipRepo) Update(ctx context.Context, babyID, userID string, patch model.MembershipPatch) (*model.Membership, error) {
	var isAdmin *int16
	if patch.IsAdmin != nil {
		v := adminFlag(*patch.IsAdmin)
		isAdmin = &v
	}

	m, err := scanMembership(r.db.QueryRowContext(ctx,
		`UPDATE baby_family SET
			relation         = COALESCE($3, relation),
			relation_display = COALESCE($4, relation_display),
			is_admin         = COALESCE($5, is_admin),
			updated_at       = now()
		 WHERE baby_id = $1 AND user_id = $2
		 RETURNING `+membershipColumns,
		babyID, userID, patch.Relation, patch.RelationDisplay, isAdmin,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update membership: %w", err)
	}
	return m, nil
}

// Delete は家族関係を削除する。削除対象が存在しない場合はfalseを返す。
func (r *PostgresMembershipRepo) Delete(ctx context.Context, babyID, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM baby_family WHERE baby_id = $1 AND user_id = $2`,
		babyID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete membership: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListByBabyID は赤ちゃんの家族メンバー一覧を参加日時順にユーザー情報付きで返す。
func (r *PostgresMembershipRepo) ListByBabyID(ctx context.Context, babyID string) ([]model.MemberWithUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT f.id, f.baby_id, f.user_id, f.relation, f.relation_display, f.is_admin,
		        f.created_at, f.updated_at, u.nickname, u.avatar_url, (b.created_by = f.user_id)
		 FROM baby_family f
		 INNER JOIN users u ON u.id = f.user_id
		 INNER JOIN babies b ON b.id = f.baby_id
		 WHERE f.baby_id = $1
		 ORDER BY f.created_at ASC`,
		babyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []model.MemberWithUser
	for rows.Next() {
		var m model.MemberWithUser
		var isAdmin int16
		if err := rows.Scan(
			&m.ID, &m.BabyID, &m.UserID, &m.Relation, &m.RelationDisplay, &isAdmin,
			&m.CreatedAt, &m.UpdatedAt, &m.Nickname, &m.AvatarURL, &m.IsCreator,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.IsAdmin = isAdmin == 1
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}

	return members, nil
}

// compile-time interface check
var _ MembershipRepository = (*PostgresMembershipRepo)(nil)
