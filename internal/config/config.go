package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"camnode/internal/camera"
	"camnode/internal/camnode"
	"camnode/internal/logging"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig   `yaml:"server"`
	Node   NodeConfig     `yaml:"node"`
	Camera CameraConfig   `yaml:"camera"`
	Log    logging.Config `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // グレースフルシャットダウンの待ち時間
}

// NodeConfig はカメラノードのパラメータ
type NodeConfig struct {
	Name          string  `yaml:"name"`            // ノード名
	Namespace     string  `yaml:"namespace"`       // 名前空間
	FrameID       string  `yaml:"frame_id"`        // 画像のフレームラベル
	CameraInfoURL string  `yaml:"camera_info_url"` // キャリブレーションファイル (file:// 可)
	FrameRate     float64 `yaml:"frame_rate"`      // パブリッシュ周期 (Hz)
}

// CameraConfig はキャプチャデバイスの設定
type CameraConfig struct {
	Source string `yaml:"source"` // v4l2 または fake
	Device string `yaml:"device"` // デバイス番号またはパス (例: 0, /dev/video0)

	FPS    int `yaml:"fps"`    // キャプチャのフレームレート
	Width  int `yaml:"width"`  // 要求する画像幅 (0はデバイスの既定値)
	Height int `yaml:"height"` // 要求する画像高さ (0はデバイスの既定値)
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Node: NodeConfig{
			Name:          "simple_camera_node",
			Namespace:     "",
			FrameID:       "camera_link",
			CameraInfoURL: "",
			FrameRate:     30.0,
		},
		Camera: CameraConfig{
			Source: string(camera.SourceTypeV4L2),
			Device: "0",
			FPS:    30,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load は設定を読み込む。
// デフォルト値、YAMLファイル (path が空でなければ)、環境変数の順に上書きする
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "設定の検証に失敗")
	}

	return cfg, nil
}

// Read はデフォルト値にファイルと環境変数を重ねるが、検証はしない
// コマンドラインオプションで上書きしてから Validate を呼ぶ場合に使う
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "設定ファイルを開けません: %s", path)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return errors.Wrapf(err, "設定ファイルの解析に失敗: %s", path)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() error {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Node.Name = getEnvOrDefault("NODE_NAME", c.Node.Name)
	c.Node.Namespace = getEnvOrDefault("ROS_NAMESPACE", c.Node.Namespace)
	c.Node.FrameID = getEnvOrDefault("FRAME_ID", c.Node.FrameID)
	c.Node.CameraInfoURL = getEnvOrDefault("CAMERA_INFO_URL", c.Node.CameraInfoURL)
	c.Camera.Source = getEnvOrDefault("CAMERA_SOURCE", c.Camera.Source)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnvOrDefault("LOG_FILE", c.Log.File)

	var err error
	c.Server.Port, err = getEnvAsIntOrDefault("PORT", c.Server.Port)
	if err != nil {
		return err
	}
	c.Node.FrameRate, err = getEnvAsFloatOrDefault("FRAME_RATE", c.Node.FrameRate)
	return err
}

// Validate は設定の妥当性を検証する。問題はまとめて返す
func (c *Config) Validate() error {
	var err error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.Errorf("無効なポート番号: %d", c.Server.Port))
	}
	if c.Node.Name == "" {
		err = multierr.Append(err, errors.New("ノード名が空です"))
	}
	if _, perr := camnode.PublishPeriod(c.Node.FrameRate); perr != nil {
		err = multierr.Append(err, errors.Wrap(perr, "無効なフレームレート"))
	}
	switch camera.SourceType(c.Camera.Source) {
	case camera.SourceTypeV4L2:
		if c.Camera.Device == "" {
			err = multierr.Append(err, errors.New("カメラデバイスが設定されていません"))
		}
	case camera.SourceTypeFake:
	default:
		err = multierr.Append(err, errors.Errorf("未対応のカメラソース: %q", c.Camera.Source))
	}
	if c.Camera.FPS < 0 || c.Camera.Width < 0 || c.Camera.Height < 0 {
		err = multierr.Append(err, errors.New("カメラ設定に負の値があります"))
	}
	if _, lerr := logging.ParseLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, lerr)
	}

	return err
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CaptureSettings はデバイスに渡すキャプチャ設定を返す
func (c *Config) CaptureSettings() camera.Settings {
	return camera.Settings{
		FPS:    c.Camera.FPS,
		Width:  c.Camera.Width,
		Height: c.Camera.Height,
	}
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "環境変数 %s が整数ではありません", key)
	}
	return intVal, nil
}

// getEnvAsFloatOrDefault は環境変数を実数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsFloatOrDefault(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "環境変数 %s が数値ではありません", key)
	}
	return f, nil
}
