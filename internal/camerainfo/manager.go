package camerainfo

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camnode/internal/calibration"
)

const (
	fallbackWidth  = 640
	fallbackHeight = 480
)

// State はカメラ情報の状態を表す
type State string

const (
	StateUninitialized State = "uninitialized" // 起動前
	StateLoaded        State = "loaded"        // ファイルまたはリクエストから取得済み
	StateDefaulted     State = "defaulted"     // 既定値を使用中
)

// SizeReporter はキャプチャデバイスが報告する解像度を返す (不明な場合は0)
type SizeReporter interface {
	ReportedSize() (width, height int)
}

// Config はライフサイクルの設定
type Config struct {
	Path           string // キャリブレーションファイルのパス
	CameraName     string // 保存時の camera_name (名前空間またはノード名)
	DefaultFrameID string // 既定のフレームラベル
}

// Response は set_camera_info の応答
type Response struct {
	Success       bool   `json:"success"`
	StatusMessage string `json:"status_message"`
}

// Manager は現在のカメラ情報を所有する
type Manager struct {
	config Config
	device SizeReporter
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	current calibration.CameraInfo
	state   State
}

// New は新しいManagerを作成する。Initialize を呼ぶまでは uninitialized
func New(config Config, device SizeReporter, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		config: config,
		device: device,
		logger: logger,
		state:  StateUninitialized,
	}
}

// Initialize はファイルからカメラ情報を読み込み、失敗した場合は既定値を作る
func (m *Manager) Initialize() State {
	info, err := calibration.Load(m.config.Path)
	if err == nil {
		if info.Header.FrameID == "" {
			info.Header.FrameID = m.config.DefaultFrameID
		}
		m.install(info, StateLoaded)
		m.logger.Infow("loaded camera_info", "path", m.config.Path)
		return StateLoaded
	}

	if errors.Is(err, calibration.ErrNotFound) {
		m.logger.Debugw("no camera_info file", "path", m.config.Path)
	} else {
		m.logger.Warnw("failed to load camera_info", "path", m.config.Path, "error", err)
	}

	m.install(m.defaultInfo(), StateDefaulted)
	m.logger.Info("using default (uninitialized) camera_info until the calibrator updates it")
	return StateDefaulted
}

// defaultInfo はデバイスの解像度から未キャリブレーションの既定値を作る
func (m *Manager) defaultInfo() calibration.CameraInfo {
	w, h := m.device.ReportedSize()
	if w <= 0 {
		w = fallbackWidth
	}
	if h <= 0 {
		h = fallbackHeight
	}
	cx := float64(w) / 2.0
	cy := float64(h) / 2.0

	return calibration.CameraInfo{
		Header:          calibration.Header{FrameID: m.config.DefaultFrameID},
		Width:           uint32(w),
		Height:          uint32(h),
		DistortionModel: calibration.DefaultDistortionModel,
		K:               []float64{1, 0, cx, 0, 1, cy, 0, 0, 1},
		D:               []float64{},
		R:               calibration.IdentityRectification(),
		P:               []float64{1, 0, cx, 0, 0, 1, cy, 0, 0, 0, 1, 0},
	}
}

// SetCameraInfo はリクエストのカメラ情報を採用して保存する。
// 保存に失敗してもメモリ上のレコードは置き換えたまま失敗を返す
func (m *Manager) SetCameraInfo(req calibration.CameraInfo) Response {
	info := req.Clone()
	if info.Header.FrameID == "" {
		info.Header.FrameID = m.config.DefaultFrameID
	}
	if info.Width == 0 || info.Height == 0 {
		// どちらかが欠けていれば、デバイスが報告する値で両方を上書きする
		w, h := m.device.ReportedSize()
		if w > 0 {
			info.Width = uint32(w)
		}
		if h > 0 {
			info.Height = uint32(h)
		}
	}

	m.install(info, StateLoaded)

	path, err := calibration.Save(info, m.config.Path, m.config.CameraName)
	if err != nil {
		resp := Response{
			Success:       false,
			StatusMessage: fmt.Sprintf("Error saving camera info: %v", err),
		}
		m.logger.Error(resp.StatusMessage)
		return resp
	}

	resp := Response{
		Success:       true,
		StatusMessage: fmt.Sprintf("Camera info saved to %s", path),
	}
	m.logger.Info(resp.StatusMessage)
	return resp
}

// Current は現在のカメラ情報のコピーを返す
func (m *Manager) Current() calibration.CameraInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Snapshot はパブリッシュ用のコピーを返す。
// フレームラベルは保存値に関係なく既定のフレームラベルになる
func (m *Manager) Snapshot(stamp time.Time) calibration.CameraInfo {
	info := m.Current()
	info.Header.Stamp = stamp
	info.Header.FrameID = m.config.DefaultFrameID
	return info
}

// State は現在の状態を返す
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Path はキャリブレーションファイルのパスを返す
func (m *Manager) Path() string {
	return m.config.Path
}

func (m *Manager) install(info calibration.CameraInfo, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = info
	m.state = state
}
