package camera

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SourceConfig はデバイス作成設定
type SourceConfig struct {
	Device     string                 // デバイス番号またはパス
	Settings   Settings               // キャプチャ設定
	Properties map[string]interface{} // 追加プロパティ
	Logger     *zap.SugaredLogger
}

// DeviceFactory はデバイス作成ファクトリー
type DeviceFactory interface {
	CreateDevice(sourceType SourceType, config SourceConfig) (Device, error)
	GetSupportedTypes() []SourceType
}

// DeviceCreator はデバイス作成関数の型
type DeviceCreator func(config SourceConfig) (Device, error)

// DefaultDeviceFactory は標準実装
type DefaultDeviceFactory struct {
	creators map[SourceType]DeviceCreator
}

// NewDeviceFactory は新しいファクトリーを作成する
func NewDeviceFactory(discovery Discovery) *DefaultDeviceFactory {
	factory := &DefaultDeviceFactory{
		creators: make(map[SourceType]DeviceCreator),
	}

	factory.Register(SourceTypeV4L2, func(config SourceConfig) (Device, error) {
		return newV4L2DeviceFromConfig(discovery, config)
	})
	factory.Register(SourceTypeFake, newFakeDeviceFromConfig)

	return factory
}

// Register はデバイス作成関数を登録する
func (f *DefaultDeviceFactory) Register(sourceType SourceType, creator DeviceCreator) {
	f.creators[sourceType] = creator
}

// CreateDevice はデバイスを作成する (まだ開始しない)
func (f *DefaultDeviceFactory) CreateDevice(sourceType SourceType, config SourceConfig) (Device, error) {
	creator, exists := f.creators[sourceType]
	if !exists {
		return nil, errors.Errorf("unsupported source type: %s", sourceType)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	return creator(config)
}

// GetSupportedTypes はサポートされているデバイスの種類を返す
func (f *DefaultDeviceFactory) GetSupportedTypes() []SourceType {
	types := make([]SourceType, 0, len(f.creators))
	for sourceType := range f.creators {
		types = append(types, sourceType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Open はデバイスを作成して開始する
func Open(ctx context.Context, factory DeviceFactory, sourceType SourceType, config SourceConfig) (Device, error) {
	device, err := factory.CreateDevice(sourceType, config)
	if err != nil {
		return nil, err
	}
	if err := device.Start(ctx); err != nil {
		return nil, err
	}
	return device, nil
}

func newV4L2DeviceFromConfig(discovery Discovery, config SourceConfig) (Device, error) {
	if config.Device == "" {
		return nil, errors.New("a device index or path is required for v4l2 sources")
	}
	path := ResolveDevice(config.Device)

	name := fmt.Sprintf("USB Camera (%s)", path)
	driver := "v4l2"
	if deviceInfo, err := discovery.GetDeviceInfo(context.TODO(), path); err == nil && deviceInfo != nil {
		name = deviceInfo.Name
		driver = deviceInfo.Driver
	}

	info := SourceInfo{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        SourceTypeV4L2,
		Driver:      driver,
		Description: fmt.Sprintf("USB Camera: %s", name),
		Device:      path,
	}
	return NewV4L2Device(info, config.Settings, discovery, config.Logger), nil
}

func newFakeDeviceFromConfig(config SourceConfig) (Device, error) {
	reportSize := true
	if v, ok := config.Properties["report_size"].(bool); ok {
		reportSize = v
	}

	info := SourceInfo{
		ID:          uuid.NewString(),
		Name:        "Test Pattern",
		Type:        SourceTypeFake,
		Driver:      "fake",
		Description: "Synthetic test pattern",
		Device:      config.Device,
	}
	return NewFakeDevice(info, config.Settings, reportSize), nil
}
