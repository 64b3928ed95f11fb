package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultFakeWidth  = 640
	defaultFakeHeight = 480
	defaultFakeFPS    = 30
)

// FakeDevice は合成テストパターンを生成する Device 実装
type FakeDevice struct {
	baseDevice

	reportSize bool // false の場合は解像度を 0x0 と報告する
	frameCount int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFakeDevice は新しいFakeDeviceを作成する
func NewFakeDevice(info SourceInfo, settings Settings, reportSize bool) *FakeDevice {
	if settings.Width <= 0 {
		settings.Width = defaultFakeWidth
	}
	if settings.Height <= 0 {
		settings.Height = defaultFakeHeight
	}
	if settings.FPS <= 0 {
		settings.FPS = defaultFakeFPS
	}
	return &FakeDevice{
		baseDevice: newBaseDevice(info, settings),
		reportSize: reportSize,
	}
}

// Start はテストパターンの生成を開始する
func (f *FakeDevice) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status == StatusActive {
		return nil
	}
	if f.reportSize {
		f.width, f.height = f.settings.Width, f.settings.Height
	}

	genCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	interval := time.Second / time.Duration(f.settings.FPS)

	f.wg.Add(1)
	go f.generate(genCtx, interval)

	f.status = StatusActive
	return nil
}

// Close は生成を停止する
func (f *FakeDevice) Close() error {
	f.mu.Lock()
	if f.status != StatusActive {
		f.mu.Unlock()
		return nil
	}
	f.status = StatusInactive
	cancel := f.cancel
	f.mu.Unlock()

	cancel()
	f.wg.Wait()
	f.drain()
	return nil
}

func (f *FakeDevice) generate(ctx context.Context, interval time.Duration) {
	defer f.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := f.renderFrame()
			if err != nil {
				f.pushError(err)
				continue
			}
			f.pushFrame(frame)
		}
	}
}

// renderFrame はフレーム番号に応じて縦縞が流れるグラデーションを描画する
func (f *FakeDevice) renderFrame() ([]byte, error) {
	w, h := f.settings.Width, f.settings.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bar := (f.frameCount * 4) % w
	f.frameCount++

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255}
			if x >= bar && x < bar+8 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, errors.Wrap(err, "failed to encode test pattern")
	}
	return buf.Bytes(), nil
}
