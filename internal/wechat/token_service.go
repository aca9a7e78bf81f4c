package wechat

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/babyfamily/internal/clock"
	"github.com/hitoshi/babyfamily/internal/metrics"
	"github.com/hitoshi/babyfamily/internal/model"
	"github.com/hitoshi/babyfamily/internal/repository"
)

const (
	// DefaultSafetyMargin はプロバイダが示す有効期限から差し引く時間。
	DefaultSafetyMargin = 120 * time.Second
	// DefaultMinTTL はキャッシュに保存するトークンの最短有効期間。
	DefaultMinTTL = 300 * time.Second
)

// TokenFetcher はアクセストークンをプロバイダから取得するインターフェース。
type TokenFetcher interface {
	FetchAccessToken(ctx context.Context) (*TokenInfo, error)
}

// TokenServiceConfig はTokenServiceの設定。
type TokenServiceConfig struct {
	AppID        string
	SafetyMargin time.Duration
	MinTTL       time.Duration
}

// TokenService はアプリ単位のアクセストークンをキャッシュアサイドで提供する。
// キャッシュミス時の取得は呼び出しごとに独立して行い、重複排除はしない。
type TokenService struct {
	config  TokenServiceConfig
	store   repository.AccessTokenStore
	fetcher TokenFetcher
	clock   clock.Clock
	metrics metrics.MetricsCollector
}

// NewTokenService はTokenServiceを生成する。
// SafetyMarginとMinTTLが0の場合はデフォルト値を使用する。
func NewTokenService(
	config TokenServiceConfig,
	store repository.AccessTokenStore,
	fetcher TokenFetcher,
	clk clock.Clock,
	collector metrics.MetricsCollector,
) *TokenService {
	if config.SafetyMargin <= 0 {
		config.SafetyMargin = DefaultSafetyMargin
	}
	if config.MinTTL <= 0 {
		config.MinTTL = DefaultMinTTL
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &TokenService{
		config:  config,
		store:   store,
		fetcher: fetcher,
		clock:   clk,
		metrics: collector,
	}
}

// GetAccessToken は有効なアクセストークンを返す。
// キャッシュの読み書きに失敗しても呼び出しは失敗させず、プロバイダへの問い合わせで補う。
func (s *TokenService) GetAccessToken(ctx context.Context) (string, error) {
	now := s.clock.Now()

	cached, err := s.store.Get(ctx, s.config.AppID)
	if err != nil {
		s.metrics.RecordTokenStoreFailure("read")
		slog.WarnContext(ctx, "アクセストークンキャッシュの読み込みに失敗しました",
			slog.String("appid", s.config.AppID),
			slog.String("error", err.Error()),
		)
	} else if cached != nil && cached.IsValidAt(now) {
		s.metrics.RecordTokenCacheHit()
		return cached.Token, nil
	}
	s.metrics.RecordTokenCacheMiss()

	info, err := s.fetcher.FetchAccessToken(ctx)
	if err != nil {
		s.metrics.RecordTokenFetchFailure()
		slog.ErrorContext(ctx, "アクセストークンの取得に失敗しました",
			slog.String("appid", s.config.AppID),
			slog.String("error", err.Error()),
		)
		return "", model.NewExternalProviderError()
	}

	token := &model.AccessToken{
		AppID:     s.config.AppID,
		Token:     info.Token,
		ExpiresAt: now.Add(s.cacheTTL(info.ExpiresIn)),
	}
	if err := s.store.Put(ctx, token); err != nil {
		s.metrics.RecordTokenStoreFailure("write")
		slog.WarnContext(ctx, "アクセストークンのキャッシュ保存に失敗しました",
			slog.String("appid", s.config.AppID),
			slog.String("error", err.Error()),
		)
	}

	slog.InfoContext(ctx, "アクセストークンを更新しました",
		slog.String("appid", s.config.AppID),
		slog.Int("expires_in", info.ExpiresIn),
		slog.Time("cache_expires_at", token.ExpiresAt),
	)

	return info.Token, nil
}

// cacheTTL はプロバイダのTTLから安全マージンを差し引いた保存期間を返す。
// 差し引いた結果がMinTTLを下回る場合はMinTTLを使用する。
func (s *TokenService) cacheTTL(expiresIn int) time.Duration {
	ttl := time.Duration(expiresIn)*time.Second - s.config.SafetyMargin
	if ttl < s.config.MinTTL {
		return s.config.MinTTL
	}
	return ttl
}
