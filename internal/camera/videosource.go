package camera

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// SourceType はデバイスの種類を定義
type SourceType string

const (
	// SourceTypeV4L2 はV4L2デバイス (USBカメラ等) を表す
	SourceTypeV4L2 SourceType = "v4l2"
	// SourceTypeFake は合成テストパターンを表す
	SourceTypeFake SourceType = "fake"
)

// SourceInfo はデバイス情報を表す
type SourceInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        SourceType `json:"type"`
	Driver      string     `json:"driver"`
	Description string     `json:"description"`
	Device      string     `json:"device"` // デバイスパス
}

// baseDevice は共通実装を提供
type baseDevice struct {
	info      SourceInfo
	settings  Settings
	frameChan chan []byte // 最新フレーム1枚のみ保持
	errorChan chan error
	status    Status
	width     int
	height    int
	mu        sync.RWMutex
}

func newBaseDevice(info SourceInfo, settings Settings) baseDevice {
	return baseDevice{
		info:      info,
		settings:  settings,
		frameChan: make(chan []byte, 1),
		errorChan: make(chan error, 1),
		status:    StatusInactive,
	}
}

// GetInfo は基本情報を返す
func (b *baseDevice) GetInfo() SourceInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.info
}

// GetStatus はステータスを返す
func (b *baseDevice) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// ReportedSize はデバイスが報告する解像度を返す
func (b *baseDevice) ReportedSize() (int, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.width, b.height
}

// ReadFrame は次のフレームを返す
func (b *baseDevice) ReadFrame(ctx context.Context) ([]byte, error) {
	if b.GetStatus() != StatusActive {
		return nil, ErrNotActive
	}

	select {
	case frame := <-b.frameChan:
		return frame, nil
	case err := <-b.errorChan:
		return nil, err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "no frame received")
	}
}

func (b *baseDevice) setSize(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width = width
	b.height = height
}

// pushFrame はフレームを渡す。チャンネルがフルの場合は古いフレームを破棄する
func (b *baseDevice) pushFrame(frame []byte) {
	select {
	case b.frameChan <- frame:
		return
	default:
	}
	select {
	case <-b.frameChan:
	default:
	}
	select {
	case b.frameChan <- frame:
	default:
	}
}

// pushError はエラーを渡す。未読のエラーがある場合は新しいエラーで置き換える
func (b *baseDevice) pushError(err error) {
	select {
	case b.errorChan <- err:
		return
	default:
	}
	select {
	case <-b.errorChan:
	default:
	}
	select {
	case b.errorChan <- err:
	default:
	}
}

// drain は未読のフレームとエラーを捨てる
func (b *baseDevice) drain() {
	for {
		select {
		case <-b.frameChan:
		case <-b.errorChan:
		default:
			return
		}
	}
}
