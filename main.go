package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"camnode/internal/app"
	"camnode/internal/config"
	"camnode/internal/logging"
)

func main() {
	// 設定を読み込む (CAMNODE_CONFIG でYAMLファイルを指定できる)
	cfg, err := config.Load(os.Getenv("CAMNODE_CONFIG"))
	if err != nil {
		zap.NewExample().Sugar().Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		zap.NewExample().Sugar().Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// SIGINT/SIGTERM でキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ノードを起動
	if err := app.Run(ctx, cfg, logger.Named(cfg.Node.Name)); err != nil {
		logger.Errorf("ノードの実行に失敗しました: %v", err)
		stop()
		os.Exit(1)
	}
}
