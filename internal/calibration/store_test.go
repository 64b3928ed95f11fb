package calibration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

func sampleInfo() CameraInfo {
	return CameraInfo{
		Header:          Header{FrameID: "camera_link"},
		Width:           1280,
		Height:          720,
		DistortionModel: "plumb_bob",
		K:               []float64{912.5, 0, 640.25, 0, 913.75, 360.5, 0, 0, 1},
		D:               []float64{0.1, -0.25, 0.001, -0.0005, 1e-07},
		R:               []float64{0.999, 0.01, 0, -0.01, 0.999, 0, 0, 0, 1},
		P:               []float64{900, 0, 640, 0, 0, 900, 360, 0, 0, 0, 1, 0},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		info CameraInfo
	}{
		{"キャリブレーション済み", sampleInfo()},
		{
			name: "歪みなし",
			info: CameraInfo{
				Header:          Header{FrameID: "front"},
				Width:           640,
				Height:          480,
				DistortionModel: "rational_polynomial",
				K:               []float64{1, 0, 320, 0, 1, 240, 0, 0, 1},
				R:               IdentityRectification(),
				P:               []float64{1, 0, 320, 0, 0, 1, 240, 0, 0, 0, 1, 0},
			},
		},
		{
			name: "形状が不正な行列",
			info: CameraInfo{
				Header:          Header{FrameID: "odd"},
				DistortionModel: "equidistant",
				K:               []float64{1, 2, 3, 4},
				D:               []float64{0.5},
				R:               []float64{1},
				P:               []float64{2, 3},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "camera.yaml")

			written, err := Save(tc.info, path, "")
			if err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if written != path {
				t.Errorf("Save returned %s, want %s", written, path)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if diff := cmp.Diff(tc.info, loaded, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSaveSubstitutesEmptyMatrices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera.yaml")
	info := CameraInfo{Header: Header{FrameID: "cam"}, Width: 10, Height: 20}

	if _, err := Save(info, path, ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if diff := cmp.Diff([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, loaded.R); diff != "" {
		t.Errorf("R mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(make([]float64, 12), loaded.P); diff != "" {
		t.Errorf("P mismatch (-want +got):\n%s", diff)
	}
	if len(loaded.K) != 0 {
		t.Errorf("K should stay empty, got %v", loaded.K)
	}
	if len(loaded.D) != 0 {
		t.Errorf("D should stay empty, got %v", loaded.D)
	}
}

func TestSaveCameraNameFallback(t *testing.T) {
	testCases := []struct {
		name     string
		frameID  string
		override string
		want     string
	}{
		{"上書き名が優先", "camera_link", "front_cam", "front_cam"},
		{"フレームラベルを使用", "camera_link", "", "camera_link"},
		{"どちらも空", "", "", "camera"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "camera.yaml")
			info := sampleInfo()
			info.Header.FrameID = tc.frameID

			if _, err := Save(info, path, tc.override); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Header.FrameID != tc.want {
				t.Errorf("camera_name = %q, want %q", loaded.Header.FrameID, tc.want)
			}
		})
	}
}

func TestSaveWritesFixedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera.yaml")
	info := sampleInfo()
	info.R = nil

	if _, err := Save(info, path, ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		t.Fatalf("saved file is not valid YAML: %v", err)
	}

	wantKeys := []string{
		"camera_name", "image_width", "image_height", "camera_matrix", "distortion_model",
		"distortion_coefficients", "rectification_matrix", "projection_matrix",
	}
	if len(raw) != len(wantKeys) {
		t.Errorf("expected %d keys, got %d: %v", len(wantKeys), len(raw), raw)
	}
	for _, key := range wantKeys {
		if _, ok := raw[key]; !ok {
			t.Errorf("key %s is missing", key)
		}
	}

	shapes := map[string][2]int{
		"camera_matrix":           {3, 3},
		"distortion_coefficients": {1, len(info.D)},
		"rectification_matrix":    {3, 3},
		"projection_matrix":       {3, 4},
	}
	for key, shape := range shapes {
		m, ok := raw[key].(map[string]interface{})
		if !ok {
			t.Errorf("%s is not a mapping: %T", key, raw[key])
			continue
		}
		if m["rows"] != shape[0] || m["cols"] != shape[1] {
			t.Errorf("%s shape = %vx%v, want %dx%d", key, m["rows"], m["cols"], shape[0], shape[1])
		}
	}
	if raw["image_width"] != 1280 || raw["image_height"] != 720 {
		t.Errorf("unexpected size %v x %v", raw["image_width"], raw["image_height"])
	}
}

func TestSaveCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c", "camera.yaml")

	if _, err := Save(sampleInfo(), path, ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file was not created: %v", err)
	}
}

func TestSaveOverwritesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camera.yaml")
	if err := os.WriteFile(path, []byte("old: content\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Save(sampleInfo(), path, "override"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Header.FrameID != "override" {
		t.Errorf("file was not overwritten, camera_name = %q", loaded.Header.FrameID)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("temporary files left behind: %v", names)
	}
}

func TestSaveFailure(t *testing.T) {
	dir := t.TempDir()
	// 親ディレクトリの位置に通常ファイルを置いて作成できなくする
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := Save(sampleInfo(), filepath.Join(blocker, "camera.yaml"), "")
	if err == nil {
		t.Fatal("expected Save to fail")
	}
	if !errors.Is(err, ErrPersist) {
		t.Errorf("expected ErrPersist, got %v", err)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrParse) {
		t.Errorf("error matched the wrong kind: %v", err)
	}
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadParseError(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"空ファイル", ""},
		{"スカラー", "just a string\n"},
		{"シーケンス", "- 1\n- 2\n"},
		{"壊れたYAML", "camera_name: [unterminated\n"},
		{"幅が数値でない", "image_width: abc\n"},
		{"幅が負の値", "image_width: -5\n"},
		{"行列がスカラー", "camera_matrix: 3\n"},
		{"データが数値でない", "camera_matrix:\n  data: [a, b]\n"},
		{"行列がnull", "camera_matrix: null\n"},
		{"歪みモデルがnull", "distortion_model: ~\n"},
		{"射影行列が空値", "projection_matrix:\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "camera.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			_, err := Load(path)
			if !errors.Is(err, ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
			if !strings.Contains(err.Error(), path) {
				t.Errorf("error should name the path: %v", err)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera.yaml")
	if err := os.WriteFile(path, []byte("image_width: 320\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := CameraInfo{
		Width:           320,
		DistortionModel: DefaultDistortionModel,
		K:               []float64{},
		D:               []float64{},
		R:               []float64{},
		P:               []float64{},
	}
	if diff := cmp.Diff(want, loaded); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadCalibratorOutput(t *testing.T) {
	// カメラキャリブレーションツールが出力する形式
	content := `image_width: 640
image_height: 480
camera_name: narrow_stereo
camera_matrix:
  rows: 3
  cols: 3
  data: [628.1, 0, 311.9, 0, 627.5, 247.3, 0, 0, 1]
distortion_model: plumb_bob
distortion_coefficients:
  rows: 1
  cols: 5
  data: [0.0912, -0.2079, 0.0011, -0.0021, 0]
rectification_matrix:
  rows: 3
  cols: 3
  data: [1, 0, 0, 0, 1, 0, 0, 0, 1]
projection_matrix:
  rows: 3
  cols: 4
  data: [630.2, 0, 310.4, 0, 0, 632.8, 247.9, 0, 0, 0, 1, 0]
`
	loaded, err := Parse([]byte(content), "inline")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if loaded.Header.FrameID != "narrow_stereo" {
		t.Errorf("FrameID = %q", loaded.Header.FrameID)
	}
	if loaded.Width != 640 || loaded.Height != 480 {
		t.Errorf("size = %dx%d", loaded.Width, loaded.Height)
	}
	if len(loaded.K) != 9 || loaded.K[0] != 628.1 {
		t.Errorf("K = %v", loaded.K)
	}
	if len(loaded.D) != 5 {
		t.Errorf("D = %v", loaded.D)
	}
	if len(loaded.P) != 12 || loaded.P[6] != 247.9 {
		t.Errorf("P = %v", loaded.P)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := sampleInfo()
	clone := orig.Clone()
	clone.K[0] = -1
	clone.D[0] = -1
	clone.R[0] = -1
	clone.P[0] = -1

	if orig.K[0] == -1 || orig.D[0] == -1 || orig.R[0] == -1 || orig.P[0] == -1 {
		t.Error("Clone shares backing arrays with the original")
	}
}
