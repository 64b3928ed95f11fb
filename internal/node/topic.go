package node

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrTopicNotFound はアドバタイズされていないトピックを購読しようとした
var ErrTopicNotFound = errors.New("topic not found")

type topic struct {
	name  string
	depth int

	mu          sync.RWMutex
	latest      any
	hasLatest   bool
	published   uint64
	subscribers map[string]*Subscription
}

// TopicInfo はトピックの状態
type TopicInfo struct {
	Name        string `json:"name"`
	Depth       int    `json:"depth"`
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
}

// Publisher はトピックへメッセージを送る
type Publisher struct {
	topic *topic
}

// CreatePublisher はトピックをアドバタイズしてPublisherを返す。
// 同じトピックを複数回作成した場合は同じトピックを共有する
func (n *Node) CreatePublisher(name string, depth int) *Publisher {
	if depth < 1 {
		depth = 1
	}
	resolved := n.ResolveName(name)

	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.topics[resolved]
	if !ok {
		t = &topic{
			name:        resolved,
			depth:       depth,
			subscribers: make(map[string]*Subscription),
		}
		n.topics[resolved] = t
		n.logger.Debugw("トピックをアドバタイズしました", "topic", resolved, "depth", depth)
	}
	return &Publisher{topic: t}
}

// Topic は解決済みのトピック名を返す
func (p *Publisher) Topic() string {
	return p.topic.name
}

// SubscriptionCount は購読者数を返す
func (p *Publisher) SubscriptionCount() int {
	p.topic.mu.RLock()
	defer p.topic.mu.RUnlock()
	return len(p.topic.subscribers)
}

// Publish は最新メッセージを更新し、全購読者に配信する
func (p *Publisher) Publish(msg any) {
	t := p.topic
	t.mu.Lock()
	t.latest = msg
	t.hasLatest = true
	t.published++
	subs := make([]*Subscription, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.deliver(msg)
	}
}

// Subscription はトピックの購読
type Subscription struct {
	id    string
	topic *topic

	mu     sync.Mutex
	ch     chan any
	closed bool
}

// Subscribe はトピックを購読する。depth を超えたメッセージは古い順に捨てられる
func (n *Node) Subscribe(name string, depth int) (*Subscription, error) {
	if depth < 1 {
		depth = 1
	}
	resolved := n.ResolveName(name)

	n.mu.RLock()
	t, ok := n.topics[resolved]
	n.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrTopicNotFound, resolved)
	}

	s := &Subscription{
		id:    uuid.NewString(),
		topic: t,
		ch:    make(chan any, depth),
	}
	t.mu.Lock()
	t.subscribers[s.id] = s
	t.mu.Unlock()
	return s, nil
}

// ID は購読ID (UUID) を返す
func (s *Subscription) ID() string {
	return s.id
}

// Topic は購読しているトピック名を返す
func (s *Subscription) Topic() string {
	return s.topic.name
}

// Messages は受信チャネルを返す。Close 後にクローズされる
func (s *Subscription) Messages() <-chan any {
	return s.ch
}

// Close は購読を解除する
func (s *Subscription) Close() {
	s.topic.mu.Lock()
	delete(s.topic.subscribers, s.id)
	s.topic.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) deliver(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		// キューが一杯なら一番古いメッセージを捨てる
		select {
		case <-s.ch:
		default:
		}
	}
}

// Latest はトピックに最後にパブリッシュされたメッセージを返す
func (n *Node) Latest(name string) (any, bool) {
	resolved := n.ResolveName(name)
	n.mu.RLock()
	t, ok := n.topics[resolved]
	n.mu.RUnlock()
	if !ok {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.hasLatest
}

// HasTopic はトピックがアドバタイズされているかを返す
func (n *Node) HasTopic(name string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.topics[n.ResolveName(name)]
	return ok
}

// Topics はトピック一覧を名前順に返す
func (n *Node) Topics() []TopicInfo {
	n.mu.RLock()
	topics := make([]*topic, 0, len(n.topics))
	for _, t := range n.topics {
		topics = append(topics, t)
	}
	n.mu.RUnlock()

	infos := make([]TopicInfo, 0, len(topics))
	for _, t := range topics {
		t.mu.RLock()
		infos = append(infos, TopicInfo{
			Name:        t.name,
			Depth:       t.depth,
			Subscribers: len(t.subscribers),
			Published:   t.published,
		})
		t.mu.RUnlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
