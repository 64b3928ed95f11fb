package camnode

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"camnode/internal/calibration"
	"camnode/internal/camera"
	"camnode/internal/camerainfo"
	"camnode/internal/node"
)

const (
	ImageTopic           = "camera/image_raw"
	CameraInfoTopic      = "camera/camera_info"
	SetCameraInfoService = "set_camera_info"

	// QueueDepth はパブリッシャのhistory depth
	QueueDepth = 10

	readTimeout = time.Second
)

// Config はカメラノードのパラメータ
type Config struct {
	FrameID       string  // 画像とカメラ情報のフレームラベル
	CameraInfoURL string  // キャリブレーションファイルの場所 (空なら ~/.ros/camera_info/<identity>.yaml)
	FrameRate     float64 // パブリッシュ周期 (Hz)
}

// Status はノードの状態
type Status struct {
	Identity      string            `json:"identity"`
	Path          string            `json:"camera_info_path"`
	State         camerainfo.State  `json:"camera_info_state"`
	FrameID       string            `json:"frame_id"`
	FrameRate     float64           `json:"frame_rate"`
	Device        camera.SourceInfo `json:"device"`
	DeviceStatus  camera.Status     `json:"device_status"`
	Published     uint64            `json:"published"`
	ReadFailures  uint64            `json:"read_failures"`
	LastPublished time.Time         `json:"last_published"`
}

// CameraNode はデバイス・カメラ情報・ノードを結びつける
type CameraNode struct {
	node   *node.Node
	device camera.Device
	info   *camerainfo.Manager
	config Config
	logger *zap.SugaredLogger

	imagePub *node.Publisher
	infoPub  *node.Publisher
	timer    *node.Timer

	warned        atomic.Bool
	published     atomic.Uint64
	readFailures  atomic.Uint64
	lastPublished atomic.Time
}

// New はカメラノードを作成する。デバイスは開始済みであること
func New(n *node.Node, device camera.Device, config Config, logger *zap.SugaredLogger) (*CameraNode, error) {
	period, err := PublishPeriod(config.FrameRate)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	path, err := calibration.DefaultPath(config.CameraInfoURL, n.Identity())
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve camera info path")
	}

	c := &CameraNode{
		node:   n,
		device: device,
		config: config,
		logger: logger,
	}

	c.imagePub = n.CreatePublisher(ImageTopic, QueueDepth)
	c.infoPub = n.CreatePublisher(CameraInfoTopic, QueueDepth)
	node.CreateService(n, SetCameraInfoService, c.handleSetCameraInfo)

	c.info = camerainfo.New(camerainfo.Config{
		Path:           path,
		CameraName:     n.Identity(),
		DefaultFrameID: config.FrameID,
	}, device, logger.Named("camerainfo"))
	c.info.Initialize()

	c.timer = n.CreateTimer(period, c.publishFrame)

	logger.Infow("カメラノードを開始しました",
		"image_topic", c.imagePub.Topic(),
		"camera_info_topic", c.infoPub.Topic(),
		"service", n.ResolveName(SetCameraInfoService),
		"yaml", path,
		"period", period)
	return c, nil
}

// PublishPeriod はフレームレート (Hz) からタイマー周期を求める
func PublishPeriod(rate float64) (time.Duration, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return 0, errors.Errorf("frame rate must be a positive finite number: %v", rate)
	}
	period := time.Duration(float64(time.Second) / rate)
	if period <= 0 {
		return 0, errors.Errorf("frame rate is too high: %v", rate)
	}
	return period, nil
}

// Node は内部のノードを返す
func (c *CameraNode) Node() *node.Node {
	return c.node
}

// CameraInfo はカメラ情報のライフサイクルを返す
func (c *CameraNode) CameraInfo() *camerainfo.Manager {
	return c.info
}

func (c *CameraNode) handleSetCameraInfo(_ context.Context, req SetCameraInfoRequest) SetCameraInfoResponse {
	return c.info.SetCameraInfo(req.CameraInfo)
}

// publishFrame はタイマーから呼ばれ、フレームを1枚読んで画像とカメラ情報をパブリッシュする
func (c *CameraNode) publishFrame() {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	frame, err := c.device.ReadFrame(ctx)
	if err != nil {
		c.readFailures.Inc()
		if c.warned.CompareAndSwap(false, true) {
			c.logger.Warnw("Camera read failed (further warnings suppressed).", "error", err)
		}
		return
	}

	stamp := c.node.Now()
	width, height := c.frameSize(frame)
	c.imagePub.Publish(Image{
		Header: calibration.Header{
			Stamp:   stamp,
			FrameID: c.config.FrameID,
		},
		Height:   uint32(height),
		Width:    uint32(width),
		Encoding: EncodingJPEG,
		Data:     frame,
	})
	c.infoPub.Publish(c.info.Snapshot(stamp))

	c.published.Inc()
	c.lastPublished.Store(stamp)
}

// frameSize はJPEGヘッダから画像サイズを得る。読めない場合はデバイスの報告値
func (c *CameraNode) frameSize(frame []byte) (int, int) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(frame)); err == nil {
		return cfg.Width, cfg.Height
	}
	return c.device.ReportedSize()
}

// Status はノードの状態を返す
func (c *CameraNode) Status() Status {
	return Status{
		Identity:      c.node.Identity(),
		Path:          c.info.Path(),
		State:         c.info.State(),
		FrameID:       c.config.FrameID,
		FrameRate:     c.config.FrameRate,
		Device:        c.device.GetInfo(),
		DeviceStatus:  c.device.GetStatus(),
		Published:     c.published.Load(),
		ReadFailures:  c.readFailures.Load(),
		LastPublished: c.lastPublished.Load(),
	}
}

// Close はタイマーを止めてデバイスを解放する
func (c *CameraNode) Close() error {
	c.timer.Stop()
	return errors.Wrap(c.device.Close(), "failed to release capture device")
}
