package cutout

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/chaos-io/cutout/errs"
	"github.com/chaos-io/cutout/segment"
)

// toNRGBA 转为原点对齐的 NRGBA，方便统一处理
func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// resizeWithinMax 缩放到最长边 <= maxSize，短边不小于分割所需的最小尺寸
func resizeWithinMax(img *image.NRGBA, maxSize int) (*image.NRGBA, bool) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if maxSize <= 0 || longest <= maxSize {
		return img, false
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(int(float64(w)*scale), min(w, segment.MinImageSize))
	newH := max(int(float64(h)*scale), min(h, segment.MinImageSize))

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
	return toNRGBA(resized), true
}

// scaleMask 最近邻放大掩码后重新二值化，保证只有 0 和 255
func scaleMask(mask *image.Gray, size image.Point) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	for i, v := range dst.Pix {
		if v >= 128 {
			dst.Pix[i] = 255
		} else {
			dst.Pix[i] = 0
		}
	}
	return dst
}

// alphaBBox 从 alpha 通道计算主体 bounding box
// 把 alpha > threshold * 255 的像素当作“主体”
func alphaBBox(img *image.NRGBA, threshold float64) (image.Rectangle, bool) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	th := uint8(threshold * 255)

	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			if img.Pix[row+x*4+3] > th {
				found = true
				minX = min(minX, x)
				minY = min(minY, y)
				maxX = max(maxX, x)
				maxY = max(maxY, y)
			}
		}
	}
	if !found {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// Trim 裁到主体的 bounding box，没有主体时原样返回
func Trim(img *image.NRGBA) *image.NRGBA {
	bbox, ok := alphaBBox(img, 0)
	if !ok || bbox == img.Bounds() {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, bbox.Dx(), bbox.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bbox.Min, draw.Src)
	return dst
}

// ParseMatte 解析预览底色，例如 "#ffffff"
func ParseMatte(hex string) (color.NRGBA, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.NRGBA{}, errs.InvalidConfiguration("preview color %q: %v", hex, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// Flatten 把抠图结果按 alpha 合成到纯色底上，用于预览
func Flatten(src image.Image, matte color.NRGBA) *image.RGBA {
	img := toNRGBA(src)
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := img.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			a := uint32(c.A)
			blend := func(fg, bg uint8) uint8 {
				return uint8((uint32(fg)*a + uint32(bg)*(255-a) + 127) / 255)
			}
			dst.SetRGBA(x, y, color.RGBA{
				R: blend(c.R, matte.R),
				G: blend(c.G, matte.G),
				B: blend(c.B, matte.B),
				A: 255,
			})
		}
	}
	return dst
}
