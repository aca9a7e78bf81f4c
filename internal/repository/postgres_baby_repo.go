package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/babyfamily/internal/model"
)

// PostgresBabyRepo はPostgreSQLを使用した赤ちゃんリポジトリ。
type PostgresBabyRepo struct {
	db *sql.DB
}

// NewPostgresBabyRepo はPostgresBabyRepoを生成する。
func NewPostgresBabyRepo(db *sql.DB) *PostgresBabyRepo {
	return &PostgresBabyRepo{db: db}
}

const babyColumns = `b.id, b.name, b.gender, b.birth_date, b.avatar_url, b.created_by, b.created_at, b.updated_at`

// FindByID は指定IDの赤ちゃんを取得する。見つからない場合はnilを返す。
func (r *PostgresBabyRepo) FindByID(ctx context.Context, id string) (*model.Baby, error) {
	baby := &model.Baby{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+babyColumns+` FROM babies b WHERE b.id = $1`,
		id,
	).Scan(
		&baby.ID, &baby.Name, &baby.Gender, &baby.BirthDate,
		&baby.AvatarURL, &baby.CreatedBy, &baby.CreatedAt, &baby.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find baby by ID: %w", err)
	}

	return baby, nil
}

// CreateWithCreator は赤ちゃんと作成者の家族関係を同一トランザクションで作成する。
func (r *PostgresBabyRepo) CreateWithCreator(ctx context.Context, baby *model.Baby, creator *model.Membership) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 赤ちゃんを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO babies (id, name, gender, birth_date, avatar_url, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		baby.ID, baby.Name, baby.Gender, baby.BirthDate, baby.AvatarURL,
		baby.CreatedBy, baby.CreatedAt, baby.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert baby: %w", err)
	}

	// 作成者の家族関係を作成
	if err := insertMembership(ctx, tx, creator); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Update は赤ちゃん情報を部分更新する。見つからない場合はnilを返す。
func (r *PostgresBabyRepo) Update(ctx context.Context, id string, patch model.BabyPatch) (*model.Baby, error) {
	baby := &model.Baby{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE babies b SET
			name       = COALESCE($2, b.name),
			gender     = COALESCE($3, b.gender),
			birth_date = COALESCE($4, b.birth_date),
			avatar_url = COALESCE($5, b.avatar_url),
			updated_at = now()
		 WHERE b.id = $1
		 RETURNING `+babyColumns,
		id, patch.Name, patch.Gender, patch.BirthDate, patch.AvatarURL,
	).Scan(
		&baby.ID, &baby.Name, &baby.Gender, &baby.BirthDate,
		&baby.AvatarURL, &baby.CreatedBy, &baby.CreatedAt, &baby.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update baby: %w", err)
	}

	return baby, nil
}

// Delete は赤ちゃんを削除する。家族関係と招待はCASCADE削除される。
func (r *PostgresBabyRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM babies WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete baby: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListByUserID はユーザーが家族として所属する赤ちゃんの一覧を作成日時順に返す。
func (r *PostgresBabyRepo) ListByUserID(ctx context.Context, userID string) ([]model.BabyWithRole, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+babyColumns+`, f.relation, f.relation_display, f.is_admin
		 FROM babies b
		 INNER JOIN baby_family f ON f.baby_id = b.id
		 WHERE f.user_id = $1
		 ORDER BY b.created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list babies by user ID: %w", err)
	}
	defer rows.Close()

	var babies []model.BabyWithRole
	for rows.Next() {
		var b model.BabyWithRole
		var isAdmin int16
		if err := rows.Scan(
			&b.ID, &b.Name, &b.Gender, &b.BirthDate,
			&b.AvatarURL, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt,
			&b.Relation, &b.RelationDisplay, &isAdmin,
		); err != nil {
			return nil, fmt.Errorf("failed to scan baby: %w", err)
		}
		b.IsAdmin = isAdmin == 1
		babies = append(babies, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate babies: %w", err)
	}

	return babies, nil
}

// compile-time interface check
var _ BabyRepository = (*PostgresBabyRepo)(nil)
