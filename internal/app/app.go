// Package app はカメラノードのプロセス全体 (デバイス・ノード・HTTPサーバー) を起動する
package app

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"camnode/internal/camera"
	"camnode/internal/camnode"
	"camnode/internal/config"
	"camnode/internal/node"
	"camnode/internal/server"
)

// Run はctxが終わるまでカメラノードとHTTPサーバーを動かす
func Run(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	return run(ctx, cfg, camera.NewLinuxDiscovery(), logger)
}

func run(ctx context.Context, cfg *config.Config, discovery camera.Discovery, logger *zap.SugaredLogger) (err error) {
	factory := camera.NewDeviceFactory(discovery)
	device, err := camera.Open(ctx, factory, camera.SourceType(cfg.Camera.Source), camera.SourceConfig{
		Device:   cfg.Camera.Device,
		Settings: cfg.CaptureSettings(),
		Logger:   logger.Named("camera"),
	})
	if err != nil {
		logger.Errorf("Failed to open video device: %s", cfg.Camera.Device)
		logAvailableDevices(ctx, discovery, logger)
		return errors.Wrap(err, "camera open failed")
	}

	n := node.New(cfg.Node.Name, cfg.Node.Namespace, node.WithLogger(logger.Named("node")))
	cam, err := camnode.New(n, device, camnode.Config{
		FrameID:       cfg.Node.FrameID,
		CameraInfoURL: cfg.Node.CameraInfoURL,
		FrameRate:     cfg.Node.FrameRate,
	}, logger.Named("camnode"))
	if err != nil {
		return multierr.Append(err, device.Close())
	}
	defer func() {
		err = multierr.Append(err, cam.Close())
	}()

	srv := server.New(cfg, cam, logger.Named("server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Spin(gctx)
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})
	return g.Wait()
}

// logAvailableDevices は開けなかったときに使えるデバイスを記録する
func logAvailableDevices(ctx context.Context, discovery camera.Discovery, logger *zap.SugaredLogger) {
	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		logger.Warnw("デバイスのスキャンに失敗", "error", err)
		return
	}
	if len(devices) == 0 {
		logger.Warn("利用可能なカメラデバイスがありません")
		return
	}
	for _, device := range devices {
		info, err := discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			continue
		}
		logger.Infow("利用可能なカメラデバイス", "device", info.Device, "name", info.Name, "driver", info.Driver)
	}
}
