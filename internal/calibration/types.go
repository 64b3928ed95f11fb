package calibration

import (
	"time"
)

const (
	// DefaultDistortionModel は distortion_model が無い場合に使う歪みモデル
	DefaultDistortionModel = "plumb_bob"
	// DefaultCameraName は保存時にカメラ名もフレームラベルも無い場合の camera_name
	DefaultCameraName = "camera"
)

// Header はメッセージのタイムスタンプと座標フレームを表す
type Header struct {
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"` // 座標フレーム (保存時は camera_name)
}

// CameraInfo はカメラのキャリブレーションパラメータを表す
type CameraInfo struct {
	Header          Header    `json:"header"`
	Height          uint32    `json:"height"`
	Width           uint32    `json:"width"`
	DistortionModel string    `json:"distortion_model"`
	D               []float64 `json:"d"` // 歪み係数 (長さ任意、0は未キャリブレーション)
	K               []float64 `json:"k"` // 3x3 内部行列 (row-major)
	R               []float64 `json:"r"` // 3x3 平行化行列 (row-major)
	P               []float64 `json:"p"` // 3x4 射影行列 (row-major)
}

// Clone は行列を含めたディープコピーを返す
func (c CameraInfo) Clone() CameraInfo {
	out := c
	out.D = cloneFloats(c.D)
	out.K = cloneFloats(c.K)
	out.R = cloneFloats(c.R)
	out.P = cloneFloats(c.P)
	return out
}

// IdentityRectification は3x3の単位行列を返す
func IdentityRectification() []float64 {
	return []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// ZeroProjection は3x4のゼロ行列を返す
func ZeroProjection() []float64 {
	return make([]float64, 12)
}

func cloneFloats(in []float64) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	copy(out, in)
	return out
}
