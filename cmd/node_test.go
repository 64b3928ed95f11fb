package main

import (
	"testing"

	"github.com/urfave/cli/v2"

	"camnode/internal/config"
)

func TestApplyFlags(t *testing.T) {
	var got *config.Config
	a := newApp()
	a.Action = func(c *cli.Context) error {
		got = config.Default()
		applyFlags(c, got)
		return nil
	}

	args := []string{"camnode",
		"--port", "9001",
		"--device", "/dev/video3",
		"--frame-id", "optical",
		"--frame-rate", "7.5",
		"--ns", "/front_cam",
	}
	if err := a.Run(args); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got.Server.Port != 9001 || got.Camera.Device != "/dev/video3" {
		t.Errorf("server/camera = %+v / %+v", got.Server, got.Camera)
	}
	if got.Node.FrameID != "optical" || got.Node.FrameRate != 7.5 || got.Node.Namespace != "/front_cam" {
		t.Errorf("node = %+v", got.Node)
	}
	// 指定していない値はデフォルトのまま
	if got.Server.Host != "0.0.0.0" || got.Node.Name != "simple_camera_node" {
		t.Errorf("defaults overwritten: host=%s name=%s", got.Server.Host, got.Node.Name)
	}
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	testCases := []struct {
		name    string
		env     string
		args    []string
		want    float64
		wantErr bool
	}{
		{"フラグで不正な環境変数を上書き", "0", []string{"--frame-rate", "10"}, 10, false},
		{"フラグなしの不正な環境変数", "NaN", nil, 0, true},
		{"不正なフラグ", "15", []string{"--frame-rate=-1"}, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("CAMNODE_CONFIG", "")
			t.Setenv("FRAME_RATE", tc.env)

			var got *config.Config
			var loadErr error
			a := newApp()
			a.Action = func(c *cli.Context) error {
				got, loadErr = loadConfig(c)
				return nil
			}
			if err := a.Run(append([]string{"camnode"}, tc.args...)); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			if tc.wantErr {
				if loadErr == nil {
					t.Error("expected validation error")
				}
				return
			}
			if loadErr != nil {
				t.Fatalf("loadConfig failed: %v", loadErr)
			}
			if got.Node.FrameRate != tc.want {
				t.Errorf("FrameRate = %v, want %v", got.Node.FrameRate, tc.want)
			}
		})
	}
}
