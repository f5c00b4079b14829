package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSquare(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 30, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			c := color.NRGBA{R: 30, G: 60, B: 200, A: 255}
			if x >= 10 && x < 20 && y >= 10 && y < 20 {
				c = color.NRGBA{R: 220, G: 40, B: 40, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestRun_Batch(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	writeSquare(t, filepath.Join(in, "a.png"))
	require.NoError(t, os.WriteFile(filepath.Join(in, "b.jpg"), []byte("broken"), 0o644))

	var stderr bytes.Buffer
	code := run([]string{"-i", in, "-o", out, "-workers", "2"}, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.FileExists(t, filepath.Join(out, "a.png"))
	assert.NoFileExists(t, filepath.Join(out, "b.png"))
	assert.Contains(t, stderr.String(), "1/2 images processed successfully")
}

func TestRun_NoFiles(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"-input", t.TempDir(), "-output", t.TempDir()}, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stderr.String(), "no image files found")
}

func TestRun_MissingInput(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"-i", filepath.Join(t.TempDir(), "missing"), "-o", t.TempDir()}, &stderr)
	assert.Equal(t, 1, code)
}

func TestRun_Single(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeSquare(t, filepath.Join(in, "cat.png"))

	var stderr bytes.Buffer
	code := run([]string{"-s", filepath.Join(in, "cat.png"), "-o", out, "-trim", "-preview", "#000000", "-v"}, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.FileExists(t, filepath.Join(out, "cat.png"))
	assert.FileExists(t, filepath.Join(out, "cat_preview.png"))
	assert.Contains(t, stderr.String(), "level=DEBUG")

	code = run([]string{"-s", filepath.Join(in, "missing.png"), "-o", out}, &stderr)
	assert.Equal(t, 1, code)

	code = run([]string{"-s", filepath.Join(in, "cat.gif"), "-o", out}, &stderr)
	assert.Equal(t, 1, code)
}

func TestRun_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "边距越界", args: []string{"-m", "0.6"}},
		{name: "邻域错误", args: []string{"-neighborhood", "6"}},
		{name: "预览颜色错误", args: []string{"-preview", "white"}},
		{name: "cron 表达式错误", args: []string{"-schedule", "sometimes"}},
		{name: "未知参数", args: []string{"-unknown"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			args := append([]string{"-i", t.TempDir(), "-o", t.TempDir()}, tt.args...)
			assert.Equal(t, 1, run(args, &stderr))
		})
	}
}

func TestRun_ConfigFile(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeSquare(t, filepath.Join(in, "a.png"))

	cfgPath := filepath.Join(t.TempDir(), "cutout.yaml")
	data := "input: " + in + "\noutput: " + out + "\nmargin: 0.6\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(data), 0o644))

	var stderr bytes.Buffer
	// 配置文件中的边距非法
	assert.Equal(t, 1, run([]string{"-config", cfgPath}, &stderr))
	// 命令行覆盖后合法
	assert.Equal(t, 0, run([]string{"-config", cfgPath, "-m", "0.1"}, &stderr), stderr.String())
	assert.FileExists(t, filepath.Join(out, "a.png"))
}

func TestRun_Help(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"-h"}, &stderr))
	assert.Contains(t, stderr.String(), "-margin")
}
