package camera

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // JPEGのサイズ取得に必要
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const probeTimeout = 5 * time.Second

// V4L2Device はV4L2デバイス (USBカメラ等) の Device 実装
type V4L2Device struct {
	baseDevice

	capturer  *V4L2Capturer
	discovery Discovery
	logger    *zap.SugaredLogger

	// 制御用
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// ストリーミング用の内部チャンネル
	internalFrameChan chan []byte
	internalErrorChan chan error
}

// NewV4L2Device は新しいV4L2Deviceを作成する
func NewV4L2Device(info SourceInfo, settings Settings, discovery Discovery, logger *zap.SugaredLogger) *V4L2Device {
	return &V4L2Device{
		baseDevice:        newBaseDevice(info, settings),
		capturer:          NewV4L2Capturer(info.Device, settings, logger),
		discovery:         discovery,
		logger:            logger,
		internalFrameChan: make(chan []byte, 10),
		internalErrorChan: make(chan error, 5),
	}
}

// Start はデバイスを開いてストリーミングを開始する
func (s *V4L2Device) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusActive {
		return nil // 既に開始済み
	}

	if !s.discovery.IsDeviceAvailable(ctx, s.info.Device) {
		s.status = StatusError
		return errors.Errorf("failed to open video device: %s", s.info.Device)
	}

	// デバイスの現在のフォーマットから解像度を取得 (失敗しても続行)
	probeCtx, cancelProbe := context.WithTimeout(ctx, probeTimeout)
	w, h, err := s.capturer.ProbeSize(probeCtx)
	cancelProbe()
	if err != nil {
		s.logger.Debugw("could not probe video format", "device", s.info.Device, "error", err)
	} else {
		s.width, s.height = w, h
	}
	// 要求した解像度はffmpegがネゴシエートする
	if s.settings.Width > 0 && s.settings.Height > 0 {
		s.width, s.height = s.settings.Width, s.settings.Height
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.capturer.StartStream(streamCtx, s.internalFrameChan, s.internalErrorChan)

	s.wg.Add(1)
	go s.forwardFrames(streamCtx)

	s.status = StatusActive
	return nil
}

// Close はストリーミングを停止してデバイスを解放する
func (s *V4L2Device) Close() error {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return nil // 既に停止済み
	}
	s.status = StatusInactive
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.drain()
	return nil
}

// forwardFrames はキャプチャからのフレームを転送し、解像度を更新する
func (s *V4L2Device) forwardFrames(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-s.internalFrameChan:
			// 実際に届いたフレームの解像度を報告値とする
			if cfg, _, err := image.DecodeConfig(bytes.NewReader(frame)); err == nil {
				s.setSize(cfg.Width, cfg.Height)
			}
			s.pushFrame(frame)

		case err := <-s.internalErrorChan:
			s.logger.Warnw("capture error", "device", s.info.Device, "error", err)
			s.pushError(err)
		}
	}
}
