// Package main はカメラノードコマンドの実装です
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"camnode/internal/app"
	"camnode/internal/config"
	"camnode/internal/logging"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "camnode",
		Usage: "キャプチャデバイスの画像とカメラ情報をパブリッシュするカメラノード",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML設定ファイル", EnvVars: []string{"CAMNODE_CONFIG"}},
			&cli.StringFlag{Name: "host", Usage: "サーバーのホスト (デフォルト: 0.0.0.0)"},
			&cli.IntFlag{Name: "port", Usage: "サーバーのポート (デフォルト: 8080)"},
			&cli.StringFlag{Name: "device", Aliases: []string{"d"}, Usage: "デバイス番号またはパス (デフォルト: 0)"},
			&cli.StringFlag{Name: "source", Usage: "キャプチャソース (v4l2 または fake)"},
			&cli.IntFlag{Name: "width", Usage: "要求する画像幅"},
			&cli.IntFlag{Name: "height", Usage: "要求する画像高さ"},
			&cli.IntFlag{Name: "fps", Usage: "キャプチャのフレームレート"},
			&cli.StringFlag{Name: "frame-id", Usage: "フレームラベル (デフォルト: camera_link)"},
			&cli.StringFlag{Name: "camera-info-url", Usage: "キャリブレーションファイル (file:// 可)"},
			&cli.Float64Flag{Name: "frame-rate", Usage: "パブリッシュ周期 Hz (デフォルト: 30)"},
			&cli.StringFlag{Name: "name", Usage: "ノード名 (デフォルト: simple_camera_node)"},
			&cli.StringFlag{Name: "namespace", Aliases: []string{"ns"}, Usage: "名前空間"},
			&cli.StringFlag{Name: "log-level", Usage: "ログレベル (debug, info, warn, error)"},
			&cli.StringFlag{Name: "log-file", Usage: "ログファイル (ローテーションあり)"},
		},
		Action: runNode,
	}
}

func runNode(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("カメラノードを起動します: %s", cfg.ServerAddress())
	return app.Run(ctx, cfg, logger.Named(cfg.Node.Name))
}

// loadConfig はファイルと環境変数にフラグを重ねてから検証する
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Read(c.Path("config"))
	if err != nil {
		return nil, err
	}

	// コマンドラインオプションで設定を上書き
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "設定の検証に失敗")
	}
	return cfg, nil
}

// applyFlags は指定されたフラグだけを設定に反映する
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.IsSet("device") {
		cfg.Camera.Device = c.String("device")
	}
	if c.IsSet("source") {
		cfg.Camera.Source = c.String("source")
	}
	if c.IsSet("width") {
		cfg.Camera.Width = c.Int("width")
	}
	if c.IsSet("height") {
		cfg.Camera.Height = c.Int("height")
	}
	if c.IsSet("fps") {
		cfg.Camera.FPS = c.Int("fps")
	}
	if c.IsSet("frame-id") {
		cfg.Node.FrameID = c.String("frame-id")
	}
	if c.IsSet("camera-info-url") {
		cfg.Node.CameraInfoURL = c.String("camera-info-url")
	}
	if c.IsSet("frame-rate") {
		cfg.Node.FrameRate = c.Float64("frame-rate")
	}
	if c.IsSet("name") {
		cfg.Node.Name = c.String("name")
	}
	if c.IsSet("namespace") {
		cfg.Node.Namespace = c.String("namespace")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}
}
