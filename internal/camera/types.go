package camera

import (
	"context"

	"github.com/pkg/errors"
)

// Status はデバイスの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // 停止中
	StatusActive   Status = "active"   // 動作中
	StatusError    Status = "error"    // エラーが発生
)

// ErrNotActive は開始されていないデバイスからフレームを読もうとしたことを示す
var ErrNotActive = errors.New("capture device is not active")

// Device はキャプチャデバイスの操作を提供する
type Device interface {
	// Start はデバイスを開いてキャプチャを開始する
	Start(ctx context.Context) error

	// ReadFrame は次のJPEGフレームを返す。フレームが届くかctxが終わるまでブロックする
	ReadFrame(ctx context.Context) ([]byte, error)

	// ReportedSize はデバイスが報告する解像度を返す (不明な場合は0)
	ReportedSize() (width, height int)

	// GetInfo はデバイスの情報を返す
	GetInfo() SourceInfo

	// GetStatus は現在の状態を返す
	GetStatus() Status

	// Close はデバイスを解放する
	Close() error
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string   // デバイスパス
	Name    string   // デバイス名
	Driver  string   // ドライバー名
	Formats []string // サポートされるフォーマット
}

// Settings はキャプチャ設定を表す
type Settings struct {
	FPS    int // フレームレート
	Width  int // 要求する画像幅 (0はデバイスの既定値)
	Height int // 要求する画像高さ (0はデバイスの既定値)
}
