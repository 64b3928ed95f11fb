package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camnode/internal/camnode"
	"camnode/internal/config"
	"camnode/internal/node"
)

const (
	// WebSocketの購読キューの深さ
	wsQueueDepth = 10

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバーのリッスン先
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Status    string         `json:"status"`
	Server    ServerInfo     `json:"server"`
	Node      camnode.Status `json:"node"`
	Timestamp time.Time      `json:"timestamp"`
}

// TopicsResponse はトピック一覧の応答
type TopicsResponse struct {
	Topics []node.TopicInfo `json:"topics"`
}

// ServicesResponse はサービス一覧の応答
type ServicesResponse struct {
	Services []string `json:"services"`
}

// NodeHandler はノードをHTTPで公開する
type NodeHandler struct {
	config  *config.Config
	backend Backend
	logger  *zap.SugaredLogger

	// シャットダウン時に閉じ、ストリーミング中の接続を終わらせる
	done      chan struct{}
	closeOnce sync.Once
}

// NewNodeHandler は新しいNodeHandlerを作成する
func NewNodeHandler(cfg *config.Config, backend Backend, logger *zap.SugaredLogger) *NodeHandler {
	return &NodeHandler{
		config:  cfg,
		backend: backend,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Close はストリーミング中のハンドラを終了させる
func (h *NodeHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Root はルートパスのハンドラ
func (h *NodeHandler) Root(c *gin.Context) {
	status := h.backend.Status()
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>camnode - %s</title>
</head>
<body>
    <h1>カメラノード %s</h1>
    <p><img src="/api/stream/camera/image_raw" alt="camera/image_raw"></p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>トピック: <a href="/api/topics">/api/topics</a></p>
    <p>サービス: <a href="/api/services">/api/services</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`, status.Identity, status.Identity)
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *NodeHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *NodeHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Node:      h.backend.Status(),
		Timestamp: time.Now(),
	})
}

// GetTopics はトピック一覧取得エンドポイントの実装
func (h *NodeHandler) GetTopics(c *gin.Context) {
	c.JSON(http.StatusOK, TopicsResponse{Topics: h.backend.Node().Topics()})
}

// GetTopic はトピックの最新メッセージを返す
func (h *NodeHandler) GetTopic(c *gin.Context) {
	n := h.backend.Node()
	name := topicName(c, n)
	if !n.HasTopic(name) {
		h.topicNotFound(c, name)
		return
	}

	msg, ok := n.Latest(name)
	if !ok {
		abortWithError(c, http.StatusNotFound, "no_message", "トピックにまだメッセージがありません", nil)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// StreamTopic は画像トピックをMJPEGで配信する
func (h *NodeHandler) StreamTopic(c *gin.Context) {
	n := h.backend.Node()
	name := topicName(c, n)
	sub, err := n.Subscribe(name, 1)
	if err != nil {
		h.topicNotFound(c, name)
		return
	}
	defer sub.Close()

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)

	writer := c.Writer
	writeFrame := func(msg any) bool {
		img, ok := msg.(camnode.Image)
		if !ok || img.Encoding != camnode.EncodingJPEG {
			// JPEG以外のメッセージは飛ばす
			return true
		}
		if _, err := fmt.Fprintf(writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(img.Data)); err != nil {
			return false
		}
		if _, err := writer.Write(img.Data); err != nil {
			return false
		}
		if _, err := writer.Write([]byte("\r\n")); err != nil {
			return false
		}
		writer.Flush()
		return true
	}

	if latest, ok := n.Latest(name); ok {
		if !writeFrame(latest) {
			return
		}
	} else {
		writer.Flush()
	}

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	// ストリーミングループ
	for {
		select {
		case <-clientGone:
			return
		case <-h.done:
			return
		case msg, ok := <-sub.Messages():
			if !ok || !writeFrame(msg) {
				return
			}
		}
	}
}

// TopicWebSocket はトピックのメッセージをJSONとしてWebSocketで配信する
func (h *NodeHandler) TopicWebSocket(c *gin.Context) {
	n := h.backend.Node()
	name := topicName(c, n)
	sub, err := n.Subscribe(name, wsQueueDepth)
	if err != nil {
		h.topicNotFound(c, name)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("WebSocketのアップグレードに失敗", "topic", name, "error", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("topic", sub.Topic(), "subscription", sub.ID())
	logger.Debug("WebSocketクライアントが接続しました")

	// クライアントからの切断を検知する
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debugw("WebSocketの読み込みエラー", "error", err)
				}
				return
			}
		}
	}()

	send := func(msg any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg) == nil
	}

	if latest, ok := n.Latest(name); ok {
		if !send(latest) {
			return
		}
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(wsWriteWait))
			return
		case msg, ok := <-sub.Messages():
			if !ok || !send(msg) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// GetServices はサービス一覧取得エンドポイントの実装
func (h *NodeHandler) GetServices(c *gin.Context) {
	c.JSON(http.StatusOK, ServicesResponse{Services: h.backend.Node().Services()})
}

// CallService はJSONボディでサービスを呼び出す
func (h *NodeHandler) CallService(c *gin.Context) {
	name := topicName(c, h.backend.Node())
	body, err := c.GetRawData()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", "リクエストボディを読み込めません", stringPtr(err.Error()))
		return
	}

	resp, err := h.backend.Node().CallService(c.Request.Context(), name, body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, node.ErrServiceNotFound):
		abortWithError(c, http.StatusNotFound, "service_not_found", "指定されたサービスが見つかりません", stringPtr(name))
	case errors.Is(err, node.ErrBadRequest):
		abortWithError(c, http.StatusBadRequest, "bad_request", "リクエストを解釈できません", stringPtr(err.Error()))
	default:
		h.logger.Errorw("サービス呼び出しに失敗", "service", name, "error", err)
		abortWithError(c, http.StatusInternalServerError, "service_failed", "サービス呼び出しに失敗しました", stringPtr(err.Error()))
	}
}

// ヘルパー関数

// topicName はURLパスの名前をノードの名前空間で解決する
// 先頭の "/" はルーティング由来なので取り除き、相対名として扱う。絶対名は "//name" で指定する
func topicName(c *gin.Context, n *node.Node) string {
	return n.ResolveName(strings.TrimPrefix(c.Param("name"), "/"))
}

func (h *NodeHandler) topicNotFound(c *gin.Context, name string) {
	abortWithError(c, http.StatusNotFound, "topic_not_found", "指定されたトピックが見つかりません", stringPtr(name))
}

func abortWithError(c *gin.Context, status int, code, message string, details *string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	})
}

// stringPtr は文字列のポインタを返すヘルパー関数
func stringPtr(s string) *string {
	return &s
}
