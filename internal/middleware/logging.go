package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/babyfamily/internal/access"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// actorCapture はセッションミドルウェアが解決した操作者を外側のログ出力に伝える。
// 操作者はハンドラー側のコンテキストにのみ注入されるため、
// ログミドルウェアが事前に置いた受け皿にセッションミドルウェアが書き込む。
type actorCapture struct {
	userID string
}

type actorCaptureKey struct{}

func contextWithActorCapture(ctx context.Context, c *actorCapture) context.Context {
	return context.WithValue(ctx, actorCaptureKey{}, c)
}

// recordActor はログ用の受け皿が存在する場合に操作者のユーザーIDを書き込む。
func recordActor(ctx context.Context, userID string) {
	if c, ok := ctx.Value(actorCaptureKey{}).(*actorCapture); ok {
		c.userID = userID
	}
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、user_id（認証済みの場合）を含む。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			capture := &actorCapture{}
			r = r.WithContext(contextWithActorCapture(r.Context(), capture))

			next.ServeHTTP(rec, r)

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			userID := capture.userID
			if actor, ok := access.ActorFromContext(r.Context()); ok {
				userID = actor.UserID
			}
			if userID != "" {
				args = append(args, slog.String("user_id", userID))
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
