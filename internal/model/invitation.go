package model

import "time"

// InvitationStatus は招待コードの状態を表す。
type InvitationStatus string

const (
	// InvitationActive は引き換え可能な状態。
	InvitationActive InvitationStatus = "active"
	// InvitationExpired は有効期限切れ（終端状態）。
	InvitationExpired InvitationStatus = "expired"
	// InvitationUsed は引き換え済み（終端状態）。
	InvitationUsed InvitationStatus = "used"
)

// Invitation は赤ちゃんの家族に参加するための期限付き・1回限りの招待コード。
// 引き換え可否はStatusのみで決まり、ExpireAtを過ぎていても状態遷移が
// 適用されるまではactiveのまま保存される。
type Invitation struct {
	ID        string
	BabyID    string
	Code      string
	CreatedBy string
	ExpireAt  time.Time
	Status    InvitationStatus
	UsedBy    string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsExpiredAt はactive状態のまま有効期限を過ぎているかを返す。
// 期限ちょうどの時刻は期限切れとして扱う。
func (i *Invitation) IsExpiredAt(now time.Time) bool {
	return i.Status == InvitationActive && !now.Before(i.ExpireAt)
}

// InvitationPreview は招待コード入力画面で表示するプレビュー情報。
type InvitationPreview struct {
	Code     string
	BabyID   string
	BabyName string
	ExpireAt time.Time
	Status   InvitationStatus
}
