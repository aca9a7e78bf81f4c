package model

import "time"

// Baby は家族で共有する記録対象（赤ちゃん）を表す。
// CreatedByの作成者は作成時に必ず管理者として家族に登録される。
type Baby struct {
	ID        string
	Name      string
	Gender    string
	BirthDate *time.Time
	AvatarURL string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership はユーザーと赤ちゃんを結ぶ家族関係を表す。
// (BabyID, UserID) の組につき最大1件。
type Membership struct {
	ID              string
	BabyID          string
	UserID          string
	Relation        string
	RelationDisplay string
	IsAdmin         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MemberWithUser は家族メンバー一覧の表示用にユーザー情報を結合した構造体。
type MemberWithUser struct {
	Membership
	Nickname  string
	AvatarURL string
	IsCreator bool
}

// BabyWithRole はユーザーから見た赤ちゃんと、そのユーザーの家族関係を結合した構造体。
type BabyWithRole struct {
	Baby
	Relation        string
	RelationDisplay string
	IsAdmin         bool
}

// MembershipPatch は家族関係の部分更新内容を表す。
// nilのフィールドは変更しない。
type MembershipPatch struct {
	Relation        *string
	RelationDisplay *string
	IsAdmin         *bool
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (p MembershipPatch) IsEmpty() bool {
	return p.Relation == nil && p.RelationDisplay == nil && p.IsAdmin == nil
}

// BabyPatch は赤ちゃん情報の部分更新内容を表す。
// nilのフィールドは変更しない。
type BabyPatch struct {
	Name      *string
	Gender    *string
	BirthDate *time.Time
	AvatarURL *string
}
