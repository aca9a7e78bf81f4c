// Package clock は現在時刻の取得を抽象化する。
// 有効期限の判定を行うサービスはClockを受け取り、テストでは時刻を固定・前進させる。
package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻を返すインターフェース。
type Clock interface {
	Now() time.Time
}

// SystemClock はシステム時刻を返すClock実装。
type SystemClock struct{}

// Now は現在のUTC時刻を返す。
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock は明示的に進めるまで時刻が変わらないClock実装。
// 有効期限の境界をテストするために使用する。
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock は指定時刻で停止したManualClockを生成する。
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

// Now は現在設定されている時刻を返す。
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance は時刻をdだけ進める。
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set は時刻をnowに設定する。
func (c *ManualClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// compile-time interface check
var (
	_ Clock = SystemClock{}
	_ Clock = (*ManualClock)(nil)
)
