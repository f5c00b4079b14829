package util

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/chaos-io/cutout/errs"
	nhttp "github.com/chaos-io/cutout/util/http"
)

// MaxDownloadBytes 远程图片大小上限
const MaxDownloadBytes = 32 << 20

var client = nhttp.NewHTTPClient()

// IsURL 判断输入是否为 http(s) 地址
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// DownloadImage 下载图片
func DownloadImage(ctx context.Context, rawURL string) (image.Image, error) {
	var data []byte
	err := client.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: rawURL,
		Method:     http.MethodGet,
		Response:   &data,
		MaxBytes:   MaxDownloadBytes,
	})
	if err != nil {
		return nil, errs.UnreadableFile(rawURL, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.UnreadableFile(rawURL, err)
	}
	return img, nil
}

// OpenImage 打开本地图片，支持 jpeg/png/bmp/tiff
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.UnreadableFile(path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errs.UnreadableFile(path, err)
	}
	return img, nil
}

// SaveImage 以 PNG 写出，目录不存在时自动创建
func SaveImage(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.UnreadableFile(path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return errs.UnreadableFile(path, err)
	}

	if err := png.Encode(file, img); err != nil {
		_ = file.Close()
		return errs.UnreadableFile(path, err)
	}
	if err := file.Close(); err != nil {
		return errs.UnreadableFile(path, err)
	}
	return nil
}
