// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, permission, family, invitation, validation, external, system
	Action   string            // ユーザー向け対処方法
	Details  map[string]string // フィールド単位のバリデーションエラー（validationのみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated         = "UNAUTHENTICATED"
	ErrCodeForbiddenNotMember      = "FORBIDDEN_NOT_MEMBER"
	ErrCodeForbiddenNotAdmin       = "FORBIDDEN_NOT_ADMIN"
	ErrCodeCreatorProtected        = "CREATOR_PROTECTED"
	ErrCodeBabyNotFound            = "BABY_NOT_FOUND"
	ErrCodeMemberNotFound          = "MEMBER_NOT_FOUND"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeAlreadyMember           = "ALREADY_MEMBER"
	ErrCodeInvitationNotFound      = "INVITATION_NOT_FOUND"
	ErrCodeInvitationInvalidState  = "INVITATION_INVALID_STATE"
	ErrCodeInvitationExpired       = "INVITATION_EXPIRED"
	ErrCodeInvitationCodeExhausted = "INVITATION_CODE_EXHAUSTED"
	ErrCodeExternalProvider        = "EXTERNAL_PROVIDER_ERROR"
	ErrCodeValidationFailed        = "VALIDATION_FAILED"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeRateLimited             = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は未認証エラーを生成する。
// reasonはユーザーに表示する理由（ヘッダー欠落、ユーザー未登録、セッション期限切れ）。
func NewUnauthenticatedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  reason,
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewNotMemberError は家族メンバーでない場合の権限エラーを生成する。
func NewNotMemberError() *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenNotMember,
		Message:  "この赤ちゃんの情報にアクセスする権限がありません。",
		Category: "permission",
		Action:   "管理者に招待コードを発行してもらってください。",
	}
}

// NewNotAdminError は管理者権限がない場合の権限エラーを生成する。
func NewNotAdminError() *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenNotAdmin,
		Message:  "管理者権限がありません。",
		Category: "permission",
		Action:   "管理者に操作を依頼してください。",
	}
}

// NewCreatorProtectedError は作成者を家族から外そうとした場合のエラーを生成する。
func NewCreatorProtectedError() *APIError {
	return &APIError{
		Code:     ErrCodeCreatorProtected,
		Message:  "赤ちゃんの作成者は家族から外せません。",
		Category: "permission",
		Action:   "作成者以外のメンバーを指定してください。",
	}
}

// NewBabyNotFoundError は赤ちゃんが見つからない場合のエラーを生成する。
func NewBabyNotFoundError(babyID string) *APIError {
	return &APIError{
		Code:     ErrCodeBabyNotFound,
		Message:  fmt.Sprintf("指定された赤ちゃんが見つかりません: %s", babyID),
		Category: "family",
		Action:   "赤ちゃんIDを確認してください。",
	}
}

// NewMemberNotFoundError は家族メンバーが見つからない場合のエラーを生成する。
func NewMemberNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("指定されたユーザーは家族メンバーではありません: %s", userID),
		Category: "family",
		Action:   "メンバー一覧を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "family",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewAlreadyMemberError は既に家族メンバーである場合のエラーを生成する。
func NewAlreadyMemberError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyMember,
		Message:  "既にこの赤ちゃんの家族メンバーです。",
		Category: "family",
		Action:   "メンバー一覧を確認してください。",
	}
}

// NewInvitationNotFoundError は招待コードが存在しない場合のエラーを生成する。
func NewInvitationNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeInvitationNotFound,
		Message:  "招待コードが存在しません。",
		Category: "invitation",
		Action:   "招待コードを確認してください。",
	}
}

// NewInvitationInvalidStateError は招待コードが使用済みまたは失効済みの場合のエラーを生成する。
func NewInvitationInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvitationInvalidState,
		Message:  "招待コードは既に無効です。",
		Category: "invitation",
		Action:   "管理者に新しい招待コードを発行してもらってください。",
	}
}

// NewInvitationExpiredError は招待コードの有効期限切れエラーを生成する。
func NewInvitationExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeInvitationExpired,
		Message:  "招待コードの有効期限が切れています。",
		Category: "invitation",
		Action:   "管理者に新しい招待コードを発行してもらってください。",
	}
}

// NewInvitationCodeExhaustedError は一意な招待コードを生成できなかった場合のエラーを生成する。
func NewInvitationCodeExhaustedError() *APIError {
	return &APIError{
		Code:     ErrCodeInvitationCodeExhausted,
		Message:  "招待コードの生成に失敗しました。",
		Category: "invitation",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewExternalProviderError は外部プロバイダ（WeChat API）の失敗エラーを生成する。
// プロバイダのエラーコードやメッセージはログにのみ記録し、ここには含めない。
func NewExternalProviderError() *APIError {
	return &APIError{
		Code:     ErrCodeExternalProvider,
		Message:  "外部サービスとの通信に失敗しました。",
		Category: "external",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewValidationError はフィールド単位のバリデーションエラーを生成する。
func NewValidationError(details map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各項目の入力内容を確認してください。",
		Details:  details,
	}
}

// RequireText は無害化後に空になった必須項目を検証エラーにまとめる。
// fieldsはフィールド名から値へのマップで、全て空でなければnilを返す。
func RequireText(fields map[string]string) error {
	var details map[string]string
	for name, v := range fields {
		if v != "" {
			continue
		}
		if details == nil {
			details = make(map[string]string)
		}
		details[name] = "必須項目です。"
	}
	if details == nil {
		return nil
	}
	return NewValidationError(details)
}

// NewInvalidRequestError はリクエストボディを解析できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
