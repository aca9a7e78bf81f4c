package wechat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/babyfamily/internal/clock"
	"github.com/hitoshi/babyfamily/internal/model"
)

// --- モック ---

type mockTokenStore struct {
	mu      sync.Mutex
	entries map[string]*model.AccessToken
	getErr  error
	putErr  error
	puts    int
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{entries: make(map[string]*model.AccessToken)}
}

func (m *mockTokenStore) Get(ctx context.Context, appID string) (*model.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if t, ok := m.entries[appID]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, nil
}

func (m *mockTokenStore) Put(ctx context.Context, token *model.AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	copied := *token
	m.entries[token.AppID] = &copied
	return nil
}

type mockTokenFetcher struct {
	mu    sync.Mutex
	calls int
	fetch func(call int) (*TokenInfo, error)
}

func (m *mockTokenFetcher) FetchAccessToken(ctx context.Context) (*TokenInfo, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	return m.fetch(call)
}

func (m *mockTokenFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// sequentialFetcher は呼び出しごとに "token-1", "token-2" ... を返す。
func sequentialFetcher(expiresIn int) *mockTokenFetcher {
	return &mockTokenFetcher{fetch: func(call int) (*TokenInfo, error) {
		return &TokenInfo{Token: "token-" + string(rune('0'+call)), ExpiresIn: expiresIn}, nil
	}}
}

type mockTokenMetrics struct {
	mu            sync.Mutex
	hits, misses  int
	fetchFailures int
	storeFailures []string
}

func (m *mockTokenMetrics) RecordLogin(bool)          {}
func (m *mockTokenMetrics) RecordAccessDenied(string) {}
func (m *mockTokenMetrics) RecordRedemption(string)   {}
func (m *mockTokenMetrics) RecordHTTPStatus(int)      {}
func (m *mockTokenMetrics) RecordTokenCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}
func (m *mockTokenMetrics) RecordTokenCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}
func (m *mockTokenMetrics) RecordTokenFetchFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchFailures++
}
func (m *mockTokenMetrics) RecordTokenStoreFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeFailures = append(m.storeFailures, op)
}

var testNow = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestTokenService(store *mockTokenStore, fetcher *mockTokenFetcher, clk clock.Clock, m *mockTokenMetrics) *TokenService {
	return NewTokenService(TokenServiceConfig{AppID: "wx-app"}, store, fetcher, clk, m)
}

// --- テスト ---

// 有効期間内の2回目の呼び出しはキャッシュを返し、プロバイダを呼ばない
func TestGetAccessToken_CachedWithinValidity(t *testing.T) {
	store := newMockTokenStore()
	fetcher := sequentialFetcher(7200)
	clk := clock.NewManualClock(testNow)
	m := &mockTokenMetrics{}
	svc := newTestTokenService(store, fetcher, clk, m)

	first, err := svc.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk.Advance(time.Hour)
	second, err := svc.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Errorf("tokens differ: %q vs %q", first, second)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", fetcher.callCount())
	}
	if m.hits != 1 || m.misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", m.hits, m.misses)
	}
}

// 期限切れ後はちょうど1回プロバイダを呼び、新しいトークンを返す
func TestGetAccessToken_RefreshAfterExpiry(t *testing.T) {
	store := newMockTokenStore()
	fetcher := sequentialFetcher(7200)
	clk := clock.NewManualClock(testNow)
	svc := newTestTokenService(store, fetcher, clk, &mockTokenMetrics{})

	first, _ := svc.GetAccessToken(context.Background())

	// 7200 - 120 = 7080秒で期限切れ
	clk.Advance(7080 * time.Second)

	second, err := svc.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second == first {
		t.Errorf("expected a new token after expiry, got %q again", second)
	}
	if fetcher.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", fetcher.callCount())
	}

	third, _ := svc.GetAccessToken(context.Background())
	if third != second || fetcher.callCount() != 2 {
		t.Errorf("expected refreshed token to be cached: third=%q calls=%d", third, fetcher.callCount())
	}
}

// 保存される有効期限はnow + ttl - 安全マージン。短すぎる場合は最短TTLを使う
func TestGetAccessToken_StoredExpiry(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int
		want      time.Duration
	}{
		{"通常", 7200, 7080 * time.Second},
		{"マージン差し引きで最短TTL未満", 400, 300 * time.Second},
		{"マージン以下", 60, 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockTokenStore()
			svc := newTestTokenService(store, sequentialFetcher(tt.expiresIn), clock.NewManualClock(testNow), &mockTokenMetrics{})

			if _, err := svc.GetAccessToken(context.Background()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := store.entries["wx-app"].ExpiresAt.Sub(testNow)
			if got != tt.want {
				t.Errorf("stored ttl = %v, want %v", got, tt.want)
			}
		})
	}
}

// キャッシュ書き込み失敗は呼び出しを失敗させない
func TestGetAccessToken_StoreWriteFailureSwallowed(t *testing.T) {
	store := newMockTokenStore()
	store.putErr = errors.New("db down")
	m := &mockTokenMetrics{}
	svc := newTestTokenService(store, sequentialFetcher(7200), clock.NewManualClock(testNow), m)

	token, err := svc.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("expected success despite store failure, got %v", err)
	}
	if token != "token-1" {
		t.Errorf("token = %q, want token-1", token)
	}
	if len(m.storeFailures) != 1 || m.storeFailures[0] != "write" {
		t.Errorf("store failures = %v, want [write]", m.storeFailures)
	}
}

// キャッシュ読み込み失敗はミスとして扱う
func TestGetAccessToken_StoreReadFailureTreatedAsMiss(t *testing.T) {
	store := newMockTokenStore()
	store.getErr = errors.New("timeout")
	fetcher := sequentialFetcher(7200)
	m := &mockTokenMetrics{}
	svc := newTestTokenService(store, fetcher, clock.NewManualClock(testNow), m)

	token, err := svc.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "token-1" || fetcher.callCount() != 1 {
		t.Errorf("token=%q calls=%d", token, fetcher.callCount())
	}
	if len(m.storeFailures) != 1 || m.storeFailures[0] != "read" {
		t.Errorf("store failures = %v, want [read]", m.storeFailures)
	}
}

// プロバイダの失敗はExternalProviderErrorとして返す
func TestGetAccessToken_ProviderFailure(t *testing.T) {
	store := newMockTokenStore()
	fetcher := &mockTokenFetcher{fetch: func(int) (*TokenInfo, error) {
		return nil, &APIError{ErrCode: 40013, ErrMsg: "invalid appid"}
	}}
	m := &mockTokenMetrics{}
	svc := newTestTokenService(store, fetcher, clock.NewManualClock(testNow), m)

	_, err := svc.GetAccessToken(context.Background())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeExternalProvider {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeExternalProvider)
	}
	if m.fetchFailures != 1 {
		t.Errorf("fetch failures = %d, want 1", m.fetchFailures)
	}
	if store.puts != 0 {
		t.Errorf("store puts = %d, want 0", store.puts)
	}
}

// 期限ちょうどのキャッシュは使用しない
func TestGetAccessToken_ExpiryBoundary(t *testing.T) {
	store := newMockTokenStore()
	store.entries["wx-app"] = &model.AccessToken{AppID: "wx-app", Token: "old", ExpiresAt: testNow}
	fetcher := sequentialFetcher(7200)
	svc := newTestTokenService(store, fetcher, clock.NewManualClock(testNow), &mockTokenMetrics{})

	token, err := svc.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "old" {
		t.Error("expected token at its exact expiry to be refreshed")
	}
}

// キャッシュミス時の同時呼び出しはそれぞれ独立して取得してよいが、全て有効なトークンを返す
func TestGetAccessToken_ConcurrentMisses(t *testing.T) {
	store := newMockTokenStore()
	fetcher := &mockTokenFetcher{fetch: func(int) (*TokenInfo, error) {
		return &TokenInfo{Token: "tok", ExpiresIn: 7200}, nil
	}}
	svc := newTestTokenService(store, fetcher, clock.NewManualClock(testNow), &mockTokenMetrics{})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := svc.GetAccessToken(context.Background())
			if err == nil && tok != "tok" {
				err = errors.New("unexpected token " + tok)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if c := fetcher.callCount(); c < 1 || c > n {
		t.Errorf("provider calls = %d, want between 1 and %d", c, n)
	}
}

func TestNewTokenService_Defaults(t *testing.T) {
	svc := NewTokenService(TokenServiceConfig{AppID: "wx"}, newMockTokenStore(), sequentialFetcher(7200), nil, nil)
	if svc.config.SafetyMargin != DefaultSafetyMargin || svc.config.MinTTL != DefaultMinTTL {
		t.Errorf("unexpected defaults: %+v", svc.config)
	}
	if svc.clock == nil || svc.metrics == nil {
		t.Error("expected clock and metrics defaults")
	}
}
