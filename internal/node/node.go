package node

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Option はNodeの設定を変更する
type Option func(*Node)

// WithClock はタイマーとタイムスタンプに使う時計を指定する
func WithClock(c clock.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithLogger はロガーを指定する
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(n *Node) { n.logger = logger }
}

// Node はトピック・サービス・タイマーを束ねる
type Node struct {
	name      string
	namespace string
	clock     clock.Clock
	logger    *zap.SugaredLogger

	// コールバックを直列化するエグゼキュータ
	executor sync.Mutex

	mu       sync.RWMutex
	topics   map[string]*topic
	services map[string]serviceEntry
	timers   []*Timer
}

// New は新しいNodeを作成する
func New(name, namespace string, opts ...Option) *Node {
	n := &Node{
		name:      name,
		namespace: normalizeNamespace(namespace),
		clock:     clock.New(),
		logger:    zap.NewNop().Sugar(),
		topics:    make(map[string]*topic),
		services:  make(map[string]serviceEntry),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name はノード名を返す
func (n *Node) Name() string {
	return n.name
}

// Namespace は正規化された名前空間 ("/" または "/a/b") を返す
func (n *Node) Namespace() string {
	return n.namespace
}

// Identity は名前空間 (先頭と末尾の "/" を除く) を返し、空の場合はノード名を返す
func (n *Node) Identity() string {
	if ns := strings.Trim(n.namespace, "/"); ns != "" {
		return ns
	}
	return n.name
}

// Now は現在時刻を返す
func (n *Node) Now() time.Time {
	return n.clock.Now()
}

// ResolveName はトピック名・サービス名を絶対名に解決する。
//   - "/x" はそのまま
//   - "~/x" はノード名の下 (/ns/node/x)
//   - それ以外は名前空間の下 (/ns/x)
func (n *Node) ResolveName(name string) string {
	switch {
	case strings.HasPrefix(name, "/"):
		return name
	case strings.HasPrefix(name, "~"):
		return joinName(joinName(n.namespace, n.name), strings.TrimPrefix(strings.TrimPrefix(name, "~"), "/"))
	default:
		return joinName(n.namespace, name)
	}
}

// Spin はコンテキストが終わるまでタイマーを動かす
func (n *Node) Spin(ctx context.Context) error {
	n.mu.RLock()
	timers := append([]*Timer(nil), n.timers...)
	n.mu.RUnlock()

	var wg sync.WaitGroup
	for _, t := range timers {
		wg.Add(1)
		go func(t *Timer) {
			defer wg.Done()
			t.run(ctx)
		}(t)
	}

	<-ctx.Done()
	wg.Wait()
	for _, t := range timers {
		t.Stop()
	}
	return nil
}

// execute はエグゼキュータ上でコールバックを実行する
func (n *Node) execute(fn func()) {
	n.executor.Lock()
	defer n.executor.Unlock()
	fn()
}

func normalizeNamespace(ns string) string {
	ns = strings.Trim(ns, "/")
	if ns == "" {
		return "/"
	}
	return "/" + ns
}

func joinName(base, name string) string {
	if base == "/" {
		return "/" + name
	}
	return base + "/" + name
}
