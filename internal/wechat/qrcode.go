package wechat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/babyfamily/internal/model"
)

// DefaultQRCodePage は招待参加ページのパス。
const DefaultQRCodePage = "pages/invite/join"

// AccessTokenProvider は有効なアクセストークンを返すインターフェース。
type AccessTokenProvider interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// QRCodeRequester は小程序コード画像を取得するインターフェース。
type QRCodeRequester interface {
	GetUnlimitedQRCode(ctx context.Context, accessToken, scene, page string) ([]byte, error)
}

// QRCodeService はアクセストークンを解決して小程序コードを生成する。
type QRCodeService struct {
	tokens AccessTokenProvider
	client QRCodeRequester
	page   string
}

// NewQRCodeService はQRCodeServiceを生成する。pageが空の場合はDefaultQRCodePageを使用する。
func NewQRCodeService(tokens AccessTokenProvider, client QRCodeRequester, page string) *QRCodeService {
	if page == "" {
		page = DefaultQRCodePage
	}
	return &QRCodeService{tokens: tokens, client: client, page: page}
}

// Generate はsceneを埋め込んだPNG画像を返す。
// プロバイダのエラー内容はログにのみ記録し、呼び出し側にはExternalProviderErrorを返す。
func (s *QRCodeService) Generate(ctx context.Context, scene string) ([]byte, error) {
	token, err := s.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	png, err := s.client.GetUnlimitedQRCode(ctx, token, scene, s.page)
	if err != nil {
		attrs := []any{slog.String("scene", scene), slog.String("error", err.Error())}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			attrs = append(attrs, slog.Int("errcode", apiErr.ErrCode))
		}
		slog.ErrorContext(ctx, "小程序コードの取得に失敗しました", attrs...)
		return nil, model.NewExternalProviderError()
	}

	return png, nil
}
