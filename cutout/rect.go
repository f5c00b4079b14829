package cutout

import (
	"image"
	"math"

	"github.com/chaos-io/cutout/errs"
)

// DefaultMargin 先验矩形距图像边缘的比例
const DefaultMargin = 0.05

// PriorRect 按 margin 内缩图像边界得到先验矩形：
// x = int(w*margin), y = int(h*margin), 矩形为 (x, y, w-2x, h-2y)
func PriorRect(bounds image.Rectangle, margin float64) (image.Rectangle, error) {
	if math.IsNaN(margin) || margin < 0 || margin >= 0.5 {
		return image.Rectangle{}, errs.InvalidConfiguration("margin must be in [0, 0.5), got %v", margin)
	}
	w, h := bounds.Dx(), bounds.Dy()
	x := int(float64(w) * margin)
	y := int(float64(h) * margin)

	r := image.Rect(x, y, w-x, h-y).Add(bounds.Min)
	if r.Empty() {
		return image.Rectangle{}, errs.InvalidRegion("margin %v leaves no region inside %v", margin, bounds)
	}
	return r, nil
}
