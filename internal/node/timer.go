package node

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer は一定周期でコールバックを呼び出す
type Timer struct {
	node     *Node
	period   time.Duration
	callback func()
	ticker   *clock.Ticker

	stopOnce sync.Once
}

// CreateTimer は周期タイマーを作成する。タイマーは Spin の間だけコールバックを呼ぶ
func (n *Node) CreateTimer(period time.Duration, callback func()) *Timer {
	t := &Timer{
		node:     n,
		period:   period,
		callback: callback,
		ticker:   n.clock.Ticker(period),
	}

	n.mu.Lock()
	n.timers = append(n.timers, t)
	n.mu.Unlock()
	return t
}

// Period はタイマーの周期を返す
func (t *Timer) Period() time.Duration {
	return t.period
}

// Stop はタイマーを停止する
func (t *Timer) Stop() {
	t.stopOnce.Do(t.ticker.Stop)
}

func (t *Timer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.ticker.C:
			t.node.execute(t.callback)
		}
	}
}
