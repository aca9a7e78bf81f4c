// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// トークンキャッシュのバックエンド種別。
const (
	TokenCacheBackendPostgres = "postgres"
	TokenCacheBackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// WeChat
	WeChatAppID       string
	WeChatAppSecret   string
	WeChatAPIBaseURL  string
	WeChatHTTPTimeout time.Duration
	WeChatQRCodePage  string

	// Session
	SessionValidity  time.Duration
	SessionRetention time.Duration

	// Invitation
	InvitationValidDays  int
	InvitationCodeLength int

	// Access token cache
	TokenSafetyMargin time.Duration
	TokenMinTTL       time.Duration
	TokenCacheBackend string
	RedisURL          string

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitRedeem  int

	// Server
	ServerPort string

	// CORS（未設定の場合はCORSヘッダーを付与しない）
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.WeChatAppID = os.Getenv("WECHAT_APP_ID")
	if cfg.WeChatAppID == "" {
		missing = append(missing, "WECHAT_APP_ID")
	}

	cfg.WeChatAppSecret = os.Getenv("WECHAT_APP_SECRET")
	if cfg.WeChatAppSecret == "" {
		missing = append(missing, "WECHAT_APP_SECRET")
	}

	cfg.TokenCacheBackend = strings.ToLower(getEnvString("TOKEN_CACHE_BACKEND", TokenCacheBackendPostgres))
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.TokenCacheBackend == TokenCacheBackendRedis && cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.TokenCacheBackend {
	case TokenCacheBackendPostgres, TokenCacheBackendRedis:
	default:
		return nil, fmt.Errorf("unsupported TOKEN_CACHE_BACKEND: %q", cfg.TokenCacheBackend)
	}

	// Optional fields with defaults
	cfg.WeChatAPIBaseURL = getEnvString("WECHAT_API_BASE_URL", "https://api.weixin.qq.com")
	cfg.WeChatHTTPTimeout = getEnvDuration("WECHAT_HTTP_TIMEOUT", 10*time.Second)
	cfg.WeChatQRCodePage = getEnvString("WECHAT_QRCODE_PAGE", "pages/invite/join")
	cfg.SessionValidity = time.Duration(getEnvInt("SESSION_VALID_DAYS", 30)) * 24 * time.Hour
	cfg.SessionRetention = time.Duration(getEnvInt("SESSION_RETENTION_DAYS", 7)) * 24 * time.Hour
	cfg.InvitationValidDays = getEnvInt("INVITATION_VALID_DAYS", 7)
	cfg.InvitationCodeLength = getEnvInt("INVITATION_CODE_LENGTH", 8)
	cfg.TokenSafetyMargin = getEnvDuration("TOKEN_SAFETY_MARGIN", 120*time.Second)
	cfg.TokenMinTTL = getEnvDuration("TOKEN_MIN_TTL", 300*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRedeem = getEnvInt("RATE_LIMIT_REDEEM", 10)
	if cfg.RateLimitGeneral <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_GENERAL must be positive: %d", cfg.RateLimitGeneral)
	}
	if cfg.RateLimitRedeem <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_REDEEM must be positive: %d", cfg.RateLimitRedeem)
	}
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
