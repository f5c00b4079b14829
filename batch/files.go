package batch

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chaos-io/cutout/errs"
)

// Extensions 支持的输入扩展名（小写）
var Extensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff"}

func supported(path string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(path)))
}

// Discover 列出目录下（不递归）扩展名受支持的文件，按文件名排序
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.UnreadableFile(dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !supported(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	// ReadDir 已按文件名排序
	return files, nil
}

// CheckFormat 扩展名不在支持列表中时返回 UnsupportedFormat
func CheckFormat(path string) error {
	if !supported(path) {
		return errs.UnsupportedFormat("%s: extension %q is not one of %v", path, filepath.Ext(path), Extensions)
	}
	return nil
}

func stem(src string) string {
	base := filepath.Base(src)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputPath 输出文件为 <dstDir>/<stem>.png
func OutputPath(dstDir, src string) string {
	return filepath.Join(dstDir, stem(src)+".png")
}

// PreviewPath 预览文件为 <dstDir>/<stem>_preview.png
func PreviewPath(dstDir, src string) string {
	return filepath.Join(dstDir, stem(src)+"_preview.png")
}
