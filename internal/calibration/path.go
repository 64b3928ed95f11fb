package calibration

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const fileURLPrefix = "file://"

// ResolvePath は camera_info_url から保存先パスを決める。
//   - "file://" で始まる場合はプレフィックスを除いたパス
//   - それ以外の空でない値はそのまま
//   - 空の場合は <home>/.ros/camera_info/<identity>.yaml
func ResolvePath(cameraInfoURL, identity, home string) string {
	if strings.HasPrefix(cameraInfoURL, fileURLPrefix) {
		return strings.TrimPrefix(cameraInfoURL, fileURLPrefix)
	}
	if cameraInfoURL != "" {
		return cameraInfoURL
	}
	return filepath.Join(home, ".ros", "camera_info", identity+".yaml")
}

// DefaultPath はユーザーのホームディレクトリを使って ResolvePath を呼ぶ
func DefaultPath(cameraInfoURL, identity string) (string, error) {
	if cameraInfoURL != "" {
		return ResolvePath(cameraInfoURL, identity, ""), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve home directory")
	}
	return ResolvePath(cameraInfoURL, identity, home), nil
}
