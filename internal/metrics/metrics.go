// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証・認可・招待の各サービス層から利用する。
type MetricsCollector interface {
	RecordLogin(isNewUser bool)
	RecordAccessDenied(reason string)
	RecordTokenCacheHit()
	RecordTokenCacheMiss()
	RecordTokenFetchFailure()
	RecordTokenStoreFailure(op string)
	RecordRedemption(outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	accessDenied   *prometheus.CounterVec
	tokenCache     *prometheus.CounterVec
	tokenFetchFail prometheus.Counter
	tokenStoreFail *prometheus.CounterVec
	redemptions    *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babyfamily_logins_total",
			Help: "ログイン成功の合計数（新規ユーザーかどうか別）",
		}, []string{"new_user"}),
		accessDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babyfamily_access_denied_total",
			Help: "認可ゲートで拒否されたリクエスト数（理由別）",
		}, []string{"reason"}),
		tokenCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babyfamily_access_token_cache_total",
			Help: "アクセストークンキャッシュのヒット・ミス数",
		}, []string{"result"}),
		tokenFetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "babyfamily_access_token_fetch_fail_total",
			Help: "WeChatアクセストークン取得失敗の合計数",
		}),
		tokenStoreFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babyfamily_access_token_store_fail_total",
			Help: "アクセストークンキャッシュの読み書き失敗数（操作別）",
		}, []string{"op"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babyfamily_invitation_redemptions_total",
			Help: "招待コード引き換えの結果別件数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babyfamily_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.accessDenied,
		c.tokenCache,
		c.tokenFetchFail,
		c.tokenStoreFail,
		c.redemptions,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン成功を記録する。
func (c *Collector) RecordLogin(isNewUser bool) {
	c.logins.WithLabelValues(strconv.FormatBool(isNewUser)).Inc()
}

// RecordAccessDenied は認可拒否を記録する。
func (c *Collector) RecordAccessDenied(reason string) {
	c.accessDenied.WithLabelValues(reason).Inc()
}

// RecordTokenCacheHit はアクセストークンのキャッシュヒットを記録する。
func (c *Collector) RecordTokenCacheHit() {
	c.tokenCache.WithLabelValues("hit").Inc()
}

// RecordTokenCacheMiss はアクセストークンのキャッシュミスを記録する。
func (c *Collector) RecordTokenCacheMiss() {
	c.tokenCache.WithLabelValues("miss").Inc()
}

// RecordTokenFetchFailure はアクセストークン取得失敗を記録する。
func (c *Collector) RecordTokenFetchFailure() {
	c.tokenFetchFail.Inc()
}

// RecordTokenStoreFailure はキャッシュストアの読み書き失敗を記録する。
// opには "read" または "write" を指定する。
func (c *Collector) RecordTokenStoreFailure(op string) {
	c.tokenStoreFail.WithLabelValues(op).Inc()
}

// RecordRedemption は招待コード引き換えの結果を記録する。
func (c *Collector) RecordRedemption(outcome string) {
	c.redemptions.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector実装。
// メトリクスを使わないテストやツールで使用する。
type NopCollector struct{}

func (NopCollector) RecordLogin(bool)               {}
func (NopCollector) RecordAccessDenied(string)      {}
func (NopCollector) RecordTokenCacheHit()           {}
func (NopCollector) RecordTokenCacheMiss()          {}
func (NopCollector) RecordTokenFetchFailure()       {}
func (NopCollector) RecordTokenStoreFailure(string) {}
func (NopCollector) RecordRedemption(string)        {}
func (NopCollector) RecordHTTPStatus(int)           {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewStatusMiddleware はレスポンスのHTTPステータスコードを記録するミドルウェアを返す。
func NewStatusMiddleware(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.RecordHTTPStatus(rec.statusCode)
		})
	}
}

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
