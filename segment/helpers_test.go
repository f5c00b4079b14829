package segment

import (
	"image"
	"image/color"
)

// solidImage 纯色背景上画一个纯色矩形
func solidImage(w, h int, bg color.NRGBA, rect image.Rectangle, fg color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (image.Point{X: x, Y: y}).In(rect) {
				img.SetNRGBA(x, y, fg)
			} else {
				img.SetNRGBA(x, y, bg)
			}
		}
	}
	return img
}

var (
	blue = color.NRGBA{R: 30, G: 60, B: 200, A: 255}
	red  = color.NRGBA{R: 220, G: 40, B: 40, A: 255}
)
