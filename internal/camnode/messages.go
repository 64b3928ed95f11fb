package camnode

import (
	"camnode/internal/calibration"
	"camnode/internal/camerainfo"
)

// EncodingJPEG は Image.Data がJPEGであることを示す
const EncodingJPEG = "jpeg"

// Image は camera/image_raw のメッセージ
type Image struct {
	Header   calibration.Header `json:"header"`
	Height   uint32             `json:"height"`
	Width    uint32             `json:"width"`
	Encoding string             `json:"encoding"`
	Data     []byte             `json:"data"`
}

// SetCameraInfoRequest は set_camera_info のリクエスト
type SetCameraInfoRequest struct {
	CameraInfo calibration.CameraInfo `json:"camera_info"`
}

// SetCameraInfoResponse は set_camera_info の応答
type SetCameraInfoResponse = camerainfo.Response
