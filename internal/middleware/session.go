// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/babyfamily/internal/access"
	"github.com/hitoshi/babyfamily/internal/model"
)

// OpenIDHeader はWeChatクラウドホスティングのゲートウェイが付与する、
// 呼び出し元ユーザーのOpenIDを示すリクエストヘッダー。
const OpenIDHeader = "X-Wx-Openid"

// ActorResolver はOpenIDから有効なセッションを持つ操作者を解決するインターフェース。
// auth.Serviceが実装する。
type ActorResolver interface {
	Resolve(ctx context.Context, openID string) (access.Actor, error)
}

// NewSessionMiddleware はOpenIDヘッダーからセッションを検証し、
// 操作者をリクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーの欠落、ユーザー未登録、セッション期限切れの場合は401を返す。
func NewSessionMiddleware(resolver ActorResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			openID := strings.TrimSpace(r.Header.Get(OpenIDHeader))

			actor, err := resolver.Resolve(r.Context(), openID)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.ErrorContext(r.Context(), "failed to resolve session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			recordActor(r.Context(), actor.UserID)
			ctx := access.WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
