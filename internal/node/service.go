package node

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrServiceNotFound は登録されていないサービスを呼び出した
	ErrServiceNotFound = errors.New("service not found")
	// ErrBadRequest はリクエストをデコードできなかった
	ErrBadRequest = errors.New("bad service request")
)

type serviceEntry struct {
	name   string
	invoke func(ctx context.Context, request []byte) (any, error)
}

// CreateService は型付きハンドラをサービスとして登録し、解決済みの名前を返す。
// リクエストはJSONからReqにデコードされる。空のリクエストはReqのゼロ値になる
func CreateService[Req, Resp any](n *Node, name string, handler func(context.Context, Req) Resp) string {
	resolved := n.ResolveName(name)
	entry := serviceEntry{
		name: resolved,
		invoke: func(ctx context.Context, request []byte) (any, error) {
			var req Req
			if len(request) > 0 {
				if err := json.Unmarshal(request, &req); err != nil {
					return nil, errors.Wrapf(ErrBadRequest, "%s: %v", resolved, err)
				}
			}
			return handler(ctx, req), nil
		},
	}

	n.mu.Lock()
	n.services[resolved] = entry
	n.mu.Unlock()
	n.logger.Debugw("サービスを登録しました", "service", resolved)
	return resolved
}

// CallService はJSONリクエストでサービスを呼び出す。ハンドラはエグゼキュータ上で実行される
func (n *Node) CallService(ctx context.Context, name string, request []byte) (any, error) {
	resolved := n.ResolveName(name)
	n.mu.RLock()
	entry, ok := n.services[resolved]
	n.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrServiceNotFound, resolved)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		resp any
		err  error
	)
	n.execute(func() {
		resp, err = entry.invoke(ctx, request)
	})
	if err != nil {
		n.logger.Debugw("サービス呼び出しに失敗", "service", resolved, "error", err)
	}
	return resp, err
}

// Services は登録されたサービス名を名前順に返す
func (n *Node) Services() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.services))
	for name := range n.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
