package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// V4L2Capturer はシェルコマンドを使ってV4L2デバイスから画像を取得する
type V4L2Capturer struct {
	devicePath string
	width      int
	height     int
	fps        int
	logger     *zap.SugaredLogger
}

// NewV4L2Capturer は新しいV4L2Capturerを作成する。width/height が0の場合はデバイスの既定値を使う
func NewV4L2Capturer(devicePath string, settings Settings, logger *zap.SugaredLogger) *V4L2Capturer {
	return &V4L2Capturer{
		devicePath: devicePath,
		width:      settings.Width,
		height:     settings.Height,
		fps:        settings.FPS,
		logger:     logger,
	}
}

// ProbeSize はデバイスに設定されている解像度を取得する
func (c *V4L2Capturer) ProbeSize(ctx context.Context) (int, int, error) {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--get-fmt-video")
	output, err := cmd.Output()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to query video format")
	}

	w, h, ok := parseFormatSize(string(output))
	if !ok {
		return 0, 0, errors.New("video format does not contain Width/Height")
	}
	return w, h, nil
}

// parseFormatSize は v4l2-ctl --get-fmt-video の出力から "Width/Height : 640/480" を読む
func parseFormatSize(output string) (int, int, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Width/Height") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return 0, 0, false
		}
		dims := strings.SplitN(strings.TrimSpace(parts[1]), "/", 2)
		if len(dims) != 2 {
			return 0, 0, false
		}
		w, errW := strconv.Atoi(strings.TrimSpace(dims[0]))
		h, errH := strconv.Atoi(strings.TrimSpace(dims[1]))
		if errW != nil || errH != nil {
			return 0, 0, false
		}
		return w, h, true
	}
	return 0, 0, false
}

// inputArgs はffmpegの入力オプションを組み立てる
func (c *V4L2Capturer) inputArgs() []string {
	args := []string{"-f", "v4l2"}
	if c.width > 0 && c.height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.width, c.height))
	}
	if c.fps > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.fps))
	}
	return append(args, "-i", c.devicePath)
}

// StartStream は連続キャプチャ用のストリームを開始する。ctxが終わるとffmpegを停止する
func (c *V4L2Capturer) StartStream(ctx context.Context, frameChan chan<- []byte, errorChan chan<- error) {
	args := append(c.inputArgs(), "-f", "image2pipe", "-c:v", "mjpeg", "-q:v", "3", "-")
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		errorChan <- errors.Wrap(err, "failed to create stdout pipe")
		return
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		errorChan <- errors.Wrap(err, "failed to create stderr pipe")
		return
	}

	if err := cmd.Start(); err != nil {
		errorChan <- errors.Wrap(err, "failed to start ffmpeg")
		return
	}

	// ffmpegのstderrはデバッグログへ
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.logger.Debugw("ffmpeg", "device", c.devicePath, "line", scanner.Text())
		}
	}()

	go func() {
		defer func() {
			_ = cmd.Wait() // コンテキストキャンセル時にもエラーになるため無視
		}()

		buffer := make([]byte, 1024*1024)
		var frameBuffer bytes.Buffer

		for {
			n, err := stdout.Read(buffer)
			if n > 0 {
				frameBuffer.Write(buffer[:n])
				for _, frame := range splitJPEGFrames(&frameBuffer) {
					select {
					case frameChan <- frame:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					err = errors.New("ffmpeg stream ended")
				}
				select {
				case errorChan <- errors.Wrap(err, "frame read error"):
				case <-ctx.Done():
				}
				return
			}
		}
	}()
}

// splitJPEGFrames はバッファから完全なJPEGフレーム (SOI〜EOI) を取り出す。
// 未完成のフレームはバッファに残す
func splitJPEGFrames(buf *bytes.Buffer) [][]byte {
	var frames [][]byte
	data := buf.Bytes()

	for {
		startIdx := bytes.Index(data, jpegSOI)
		if startIdx == -1 {
			// 開始マーカーの前半だけが末尾にある可能性を残す
			if len(data) > 0 && data[len(data)-1] == 0xFF {
				data = data[len(data)-1:]
			} else {
				data = nil
			}
			break
		}

		endIdx := bytes.Index(data[startIdx+2:], jpegEOI)
		if endIdx == -1 {
			data = data[startIdx:]
			break
		}

		endIdx += startIdx + 2 + 2 // マーカーのサイズを含める
		frame := make([]byte, endIdx-startIdx)
		copy(frame, data[startIdx:endIdx])
		frames = append(frames, frame)
		data = data[endIdx:]
	}

	remaining := make([]byte, len(data))
	copy(remaining, data)
	buf.Reset()
	buf.Write(remaining)
	return frames
}
