package cutout

import (
	"fmt"
	"image"
	"image/color"

	"github.com/chaos-io/cutout/segment"
)

// Mask 把标记网格转成二值不透明度掩码，前景 255，背景 0
func Mask(labels *segment.LabelGrid) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, labels.Width, labels.Height))
	for i, fg := range labels.Binary() {
		if fg {
			mask.Pix[i] = 255
		}
	}
	return mask
}

// Composite 保留原图 RGB，alpha 取自标记网格。
// 输出为非预乘的 NRGBA，透明像素的颜色不会被清零。
func Composite(img image.Image, labels *segment.LabelGrid) (*image.NRGBA, error) {
	return applyMask(img, Mask(labels))
}

func applyMask(img image.Image, mask *image.Gray) (*image.NRGBA, error) {
	b := img.Bounds()
	if b.Dx() != mask.Rect.Dx() || b.Dy() != mask.Rect.Dy() {
		return nil, fmt.Errorf("composite: image %dx%d and mask %dx%d differ",
			b.Dx(), b.Dy(), mask.Rect.Dx(), mask.Rect.Dy())
	}

	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	src, isNRGBA := img.(*image.NRGBA)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			var c color.NRGBA
			if isNRGBA {
				c = src.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			} else {
				c = color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			}
			c.A = mask.Pix[y*mask.Stride+x]
			out.SetNRGBA(x, y, c)
		}
	}
	return out, nil
}
