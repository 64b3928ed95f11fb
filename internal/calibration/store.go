package calibration

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// matrix はYAML上の行列表現 {rows, cols, data}
type matrix struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	Data []float64 `yaml:"data,flow"`
}

// calibrationFile はキャリブレーションYAMLのキー構成
type calibrationFile struct {
	CameraName             string  `yaml:"camera_name"`
	ImageWidth             uint32  `yaml:"image_width"`
	ImageHeight            uint32  `yaml:"image_height"`
	CameraMatrix           matrix  `yaml:"camera_matrix"`
	DistortionModel        *string `yaml:"distortion_model"`
	DistortionCoefficients matrix  `yaml:"distortion_coefficients"`
	RectificationMatrix    matrix  `yaml:"rectification_matrix"`
	ProjectionMatrix       matrix  `yaml:"projection_matrix"`
}

// Load はキャリブレーションYAMLを読み込んで CameraInfo を返す
func Load(path string) (CameraInfo, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CameraInfo{}, newStoreError(ErrNotFound, path, nil)
		}
		return CameraInfo{}, newStoreError(ErrParse, path, err)
	}
	return Parse(content, path)
}

// Parse はYAMLの内容を CameraInfo に変換する。path はエラーメッセージ用
func Parse(content []byte, path string) (CameraInfo, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return CameraInfo{}, newStoreError(ErrParse, path, err)
	}
	// 空ファイルやスカラー・シーケンスはマッピングではない
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return CameraInfo{}, newStoreError(ErrParse, path, errors.New("top level is not a mapping"))
	}

	if key := nullKey(doc.Content[0]); key != "" {
		return CameraInfo{}, newStoreError(ErrParse, path, errors.Errorf("%s is null", key))
	}

	var file calibrationFile
	if err := doc.Decode(&file); err != nil {
		return CameraInfo{}, newStoreError(ErrParse, path, err)
	}

	info := CameraInfo{
		Header:          Header{FrameID: file.CameraName},
		Width:           file.ImageWidth,
		Height:          file.ImageHeight,
		DistortionModel: DefaultDistortionModel,
		K:               orEmpty(file.CameraMatrix.Data),
		D:               orEmpty(file.DistortionCoefficients.Data),
		R:               orEmpty(file.RectificationMatrix.Data),
		P:               orEmpty(file.ProjectionMatrix.Data),
	}
	if file.DistortionModel != nil {
		info.DistortionModel = *file.DistortionModel
	}
	return info, nil
}

// requiredKeys は明示的な null を許さないキー。省略はデフォルト値になる
var requiredKeys = map[string]bool{
	"camera_matrix":           true,
	"distortion_model":        true,
	"distortion_coefficients": true,
	"rectification_matrix":    true,
	"projection_matrix":       true,
}

// nullKey は値が null の requiredKeys を返す
func nullKey(mapping *yaml.Node) string {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		if requiredKeys[key.Value] && value.Kind == yaml.ScalarNode && value.ShortTag() == "!!null" {
			return key.Value
		}
	}
	return ""
}

// Save は CameraInfo をキャリブレーションYAMLとして path に書き込み、書き込んだパスを返す。
// camera_name は cameraName → info.Header.FrameID → "camera" の順で決まる
func Save(info CameraInfo, path, cameraName string) (string, error) {
	content, err := Marshal(info, cameraName)
	if err != nil {
		return "", newStoreError(ErrPersist, path, err)
	}
	if err := writeFileAtomic(path, content, 0o644); err != nil {
		return "", newStoreError(ErrPersist, path, err)
	}
	return path, nil
}

// Marshal は CameraInfo をYAMLにエンコードする
func Marshal(info CameraInfo, cameraName string) ([]byte, error) {
	name := cameraName
	if name == "" {
		name = info.Header.FrameID
	}
	if name == "" {
		name = DefaultCameraName
	}

	r := info.R
	if len(r) == 0 {
		r = IdentityRectification()
	}
	p := info.P
	if len(p) == 0 {
		p = ZeroProjection()
	}
	model := info.DistortionModel

	file := calibrationFile{
		CameraName:             name,
		ImageWidth:             info.Width,
		ImageHeight:            info.Height,
		CameraMatrix:           matrix{Rows: 3, Cols: 3, Data: orEmpty(info.K)},
		DistortionModel:        &model,
		DistortionCoefficients: matrix{Rows: 1, Cols: len(info.D), Data: orEmpty(info.D)},
		RectificationMatrix:    matrix{Rows: 3, Cols: 3, Data: r},
		ProjectionMatrix:       matrix{Rows: 3, Cols: 4, Data: p},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&file); err != nil {
		return nil, errors.Wrap(err, "error while marshaling camera info")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "error while marshaling camera info")
	}
	return buf.Bytes(), nil
}

// writeFileAtomic は同じディレクトリの一時ファイルに書き込んでから rename する
func writeFileAtomic(path string, content []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return errors.Wrap(err, "failed to write temporary file")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync temporary file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary file")
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return errors.Wrap(err, "failed to set file mode")
	}
	if err = os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "failed to rename into %s", path)
	}
	return nil
}

func orEmpty(in []float64) []float64 {
	if in == nil {
		return []float64{}
	}
	return in
}
