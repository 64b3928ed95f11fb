package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camnode/internal/camnode"
	"camnode/internal/config"
	"camnode/internal/node"
)

// Backend はサーバーが公開するノード
type Backend interface {
	Node() *node.Node
	Status() camnode.Status
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	handler    *NodeHandler
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.SugaredLogger
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, backend Backend, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		config:  cfg,
		handler: NewNodeHandler(cfg, backend, logger),
		router:  router,
		logger:  logger,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	h := s.handler

	s.router.GET("/", h.Root)
	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api")
	api.GET("/status", h.GetStatus)
	api.GET("/topics", h.GetTopics)
	api.GET("/topics/*name", h.GetTopic)
	api.GET("/stream/*name", h.StreamTopic)
	api.GET("/services", h.GetServices)
	api.POST("/services/*name", h.CallService)

	s.router.GET("/ws/topics/*name", h.TopicWebSocket)
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start はサーバーを起動し、ctx が終わるとグレースフルにシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrap(err, "サーバーの起動に失敗")
	}
	return s.Serve(ctx, listener)
}

// Serve は指定したリスナーでサーバーを動かす
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// シャットダウン用のチャンネル
	serveCh := make(chan error, 1)

	s.logger.Infow("HTTPサーバーを起動しています", "addr", listener.Addr().String())
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveCh <- errors.Wrap(err, "サーバーの実行に失敗")
		}
		close(serveCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Debug("コンテキストがキャンセルされました")
	case err := <-serveCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")
	s.handler.Close()

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "サーバーのシャットダウンに失敗")
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はリクエストをzapで記録するミドルウェア
func requestLogger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugw("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}
