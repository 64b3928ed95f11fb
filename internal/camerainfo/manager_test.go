package camerainfo

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap/zaptest"

	"camnode/internal/calibration"
)

type stubDevice struct {
	mu     sync.Mutex
	width  int
	height int
}

func (d *stubDevice) ReportedSize() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

func (d *stubDevice) resize(w, h int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = w, h
}

func newTestManager(t *testing.T, path string, device SizeReporter) *Manager {
	t.Helper()
	cfg := Config{
		Path:           path,
		CameraName:     "simple_camera_node",
		DefaultFrameID: "camera_link",
	}
	return New(cfg, device, zaptest.NewLogger(t).Sugar())
}

func TestInitializeDefaultsWhenFileMissing(t *testing.T) {
	testCases := []struct {
		name       string
		devW, devH int
		wantW      uint32
		wantH      uint32
	}{
		{"デバイスの解像度を使用", 1280, 720, 1280, 720},
		{"デバイスが0x0を報告", 0, 0, 640, 480},
		{"高さのみ不明", 800, 0, 800, 480},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.yaml")
			m := newTestManager(t, path, &stubDevice{width: tc.devW, height: tc.devH})

			if m.State() != StateUninitialized {
				t.Fatalf("expected uninitialized before Initialize, got %s", m.State())
			}
			if state := m.Initialize(); state != StateDefaulted {
				t.Fatalf("expected defaulted, got %s", state)
			}

			cx, cy := float64(tc.wantW)/2, float64(tc.wantH)/2
			want := calibration.CameraInfo{
				Header:          calibration.Header{FrameID: "camera_link"},
				Width:           tc.wantW,
				Height:          tc.wantH,
				DistortionModel: "plumb_bob",
				K:               []float64{1, 0, cx, 0, 1, cy, 0, 0, 1},
				D:               []float64{},
				R:               []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
				P:               []float64{1, 0, cx, 0, 0, 1, cy, 0, 0, 0, 1, 0},
			}
			if diff := cmp.Diff(want, m.Current()); diff != "" {
				t.Errorf("default camera info mismatch (-want +got):\n%s", diff)
			}

			// 既定値はファイルに書き込まない
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Errorf("default camera info should not be persisted: %v", err)
			}
		})
	}
}

func TestInitializeDefaultsWhenFileUnparseable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("- not\n- a mapping\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	m := newTestManager(t, path, &stubDevice{width: 320, height: 240})
	if state := m.Initialize(); state != StateDefaulted {
		t.Fatalf("expected defaulted, got %s", state)
	}
	if got := m.Current(); got.Width != 320 || got.Height != 240 {
		t.Errorf("unexpected default size %dx%d", got.Width, got.Height)
	}
}

func TestInitializeLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera.yaml")
	stored := calibration.CameraInfo{
		Header:          calibration.Header{FrameID: "stored_frame"},
		Width:           1920,
		Height:          1080,
		DistortionModel: "plumb_bob",
		K:               []float64{1400, 0, 960, 0, 1400, 540, 0, 0, 1},
		D:               []float64{0.01, 0.02, 0, 0, 0},
		R:               calibration.IdentityRectification(),
		P:               []float64{1400, 0, 960, 0, 0, 1400, 540, 0, 0, 0, 1, 0},
	}
	if _, err := calibration.Save(stored, path, ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	m := newTestManager(t, path, &stubDevice{width: 640, height: 480})
	if state := m.Initialize(); state != StateLoaded {
		t.Fatalf("expected loaded, got %s", state)
	}
	if diff := cmp.Diff(stored, m.Current(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("loaded camera info mismatch (-want +got):\n%s", diff)
	}
}

func TestInitializeFillsEmptyFrameLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera.yaml")
	if err := os.WriteFile(path, []byte("image_width: 10\nimage_height: 20\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	m := newTestManager(t, path, &stubDevice{})
	m.Initialize()

	if got := m.Current().Header.FrameID; got != "camera_link" {
		t.Errorf("FrameID = %q, want camera_link", got)
	}
}

func TestSetCameraInfoReplacesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "camera.yaml")
	m := newTestManager(t, path, &stubDevice{width: 640, height: 480})
	m.Initialize()

	req := calibration.CameraInfo{
		Header:          calibration.Header{FrameID: "calibrated"},
		Width:           640,
		Height:          480,
		DistortionModel: "plumb_bob",
		K:               []float64{600, 0, 320, 0, 600, 240, 0, 0, 1},
		D:               []float64{0.1, 0.2, 0.3, 0.4, 0.5},
		R:               calibration.IdentityRectification(),
		P:               []float64{600, 0, 320, 0, 0, 600, 240, 0, 0, 0, 1, 0},
	}

	resp := m.SetCameraInfo(req)
	if !resp.Success {
		t.Fatalf("SetCameraInfo failed: %s", resp.StatusMessage)
	}
	if !strings.Contains(resp.StatusMessage, path) {
		t.Errorf("status message should name the saved path: %q", resp.StatusMessage)
	}
	if m.State() != StateLoaded {
		t.Errorf("expected loaded, got %s", m.State())
	}
	if diff := cmp.Diff(req, m.Current()); diff != "" {
		t.Errorf("current camera info mismatch (-want +got):\n%s", diff)
	}

	loaded, err := calibration.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// camera_name はフレームラベルではなくノードの名前
	if loaded.Header.FrameID != "simple_camera_node" {
		t.Errorf("camera_name = %q, want simple_camera_node", loaded.Header.FrameID)
	}
	if diff := cmp.Diff(req.K, loaded.K); diff != "" {
		t.Errorf("persisted K mismatch (-want +got):\n%s", diff)
	}
}

func TestSetCameraInfoFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera.yaml")
	device := &stubDevice{width: 640, height: 480}
	m := newTestManager(t, path, device)
	if state := m.Initialize(); state != StateDefaulted {
		t.Fatalf("expected defaulted, got %s", state)
	}

	device.resize(1280, 720)
	resp := m.SetCameraInfo(calibration.CameraInfo{})
	if !resp.Success {
		t.Fatalf("SetCameraInfo failed: %s", resp.StatusMessage)
	}

	current := m.Current()
	if current.Width != 1280 || current.Height != 720 {
		t.Errorf("size = %dx%d, want 1280x720", current.Width, current.Height)
	}
	if current.Header.FrameID != "camera_link" {
		t.Errorf("FrameID = %q, want camera_link", current.Header.FrameID)
	}
	// K はデバイスから補完しない
	if len(current.K) != 0 {
		t.Errorf("K should stay empty, got %v", current.K)
	}

	stored, err := calibration.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if stored.Width != 1280 || stored.Height != 720 {
		t.Errorf("stored size = %dx%d", stored.Width, stored.Height)
	}
	if diff := cmp.Diff(calibration.IdentityRectification(), stored.R); diff != "" {
		t.Errorf("stored R mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(calibration.ZeroProjection(), stored.P); diff != "" {
		t.Errorf("stored P mismatch (-want +got):\n%s", diff)
	}
	if len(stored.K) != 0 {
		t.Errorf("stored camera_matrix data should be empty, got %v", stored.K)
	}
}

func TestSetCameraInfoSizeFill(t *testing.T) {
	testCases := []struct {
		name         string
		reqW, reqH   uint32
		devW, devH   int
		wantW, wantH uint32
	}{
		{"両方指定済み", 800, 600, 1280, 720, 800, 600},
		{"高さが欠けている", 800, 0, 1280, 720, 1280, 720},
		{"デバイスが不明", 0, 0, 0, 0, 0, 0},
		{"デバイスの幅のみ既知", 0, 300, 1024, 0, 1024, 300},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, filepath.Join(t.TempDir(), "camera.yaml"), &stubDevice{width: tc.devW, height: tc.devH})
			m.Initialize()

			m.SetCameraInfo(calibration.CameraInfo{Width: tc.reqW, Height: tc.reqH})
			got := m.Current()
			if got.Width != tc.wantW || got.Height != tc.wantH {
				t.Errorf("size = %dx%d, want %dx%d", got.Width, got.Height, tc.wantW, tc.wantH)
			}
		})
	}
}

func TestSetCameraInfoPersistFailureKeepsNewRecord(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	// 親が通常ファイルなので書き込めない
	path := filepath.Join(blocker, "camera.yaml")

	m := newTestManager(t, path, &stubDevice{width: 640, height: 480})
	m.Initialize()
	before := m.Current()

	req := calibration.CameraInfo{
		Header: calibration.Header{FrameID: "new_frame"},
		Width:  320,
		Height: 240,
		K:      []float64{5, 0, 160, 0, 5, 120, 0, 0, 1},
	}
	resp := m.SetCameraInfo(req)
	if resp.Success {
		t.Fatal("expected SetCameraInfo to report failure")
	}
	if !strings.HasPrefix(resp.StatusMessage, "Error saving camera info") {
		t.Errorf("unexpected status message %q", resp.StatusMessage)
	}

	after := m.Current()
	if diff := cmp.Diff(req, after); diff != "" {
		t.Errorf("record was not replaced (-want +got):\n%s", diff)
	}
	if cmp.Equal(before, after) {
		t.Error("record was rolled back to the previous value")
	}
	if m.State() != StateLoaded {
		t.Errorf("expected loaded after failed persist, got %s", m.State())
	}
}

func TestSnapshotIsStampedCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera.yaml")
	m := newTestManager(t, path, &stubDevice{width: 640, height: 480})
	m.Initialize()
	m.SetCameraInfo(calibration.CameraInfo{
		Header: calibration.Header{FrameID: "stored_label"},
		Width:  640,
		Height: 480,
		K:      []float64{1, 2, 3, 4, 5, 6, 7, 8, 9},
	})

	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := m.Snapshot(stamp)
	if !snap.Header.Stamp.Equal(stamp) {
		t.Errorf("stamp = %v, want %v", snap.Header.Stamp, stamp)
	}
	if snap.Header.FrameID != "camera_link" {
		t.Errorf("snapshot FrameID = %q, want the default frame label", snap.Header.FrameID)
	}

	// スナップショットを書き換えても内部状態は変わらない
	snap.K[0] = -100
	if m.Current().K[0] != 1 {
		t.Error("snapshot shares memory with the current record")
	}
	if m.Current().Header.FrameID != "stored_label" {
		t.Error("Snapshot mutated the stored frame label")
	}
}

func TestConcurrentSetAndSnapshot(t *testing.T) {
	m := newTestManager(t, filepath.Join(t.TempDir(), "camera.yaml"), &stubDevice{width: 640, height: 480})
	m.Initialize()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				v := float64(i*100 + j)
				m.SetCameraInfo(calibration.CameraInfo{
					Width: 640, Height: 480,
					K: []float64{v, v, v, v, v, v, v, v, v},
				})
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap := m.Snapshot(time.Now())
				for _, k := range snap.K {
					// 途中まで書き換わった行列は見えない
					if k != snap.K[0] {
						t.Errorf("torn read: %v", snap.K)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
