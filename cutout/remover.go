package cutout

import (
	"context"
	"image"
	"log/slog"

	"github.com/chaos-io/cutout/segment"
)

// BackgroundRemover 抠图接口，返回带透明通道的图像
type BackgroundRemover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// Cutout 一次抠图的完整产物
type Cutout struct {
	Image *image.NRGBA // 原分辨率，背景 alpha 为 0
	Mask  *image.Gray  // 原分辨率二值掩码
	// Result 是分割分辨率上的结果，缩放过时与 Image 尺寸不同
	Result *segment.Result
	Scaled bool
}

// GrabCutRemover 用矩形先验的 GrabCut 分割做抠图
type GrabCutRemover struct {
	Margin        float64
	MaxIterations int
	// MaxDimension 分割前把最长边缩到该值以内，<= 0 表示不缩放
	MaxDimension int
	Neighborhood int
	Trim         bool
	Logger       *slog.Logger
}

func NewGrabCutRemover() *GrabCutRemover {
	opts := segment.DefaultOptions()
	return &GrabCutRemover{
		Margin:        DefaultMargin,
		MaxIterations: opts.MaxIterations,
		MaxDimension:  800,
		Neighborhood:  opts.Neighborhood,
	}
}

func (r *GrabCutRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	c, err := r.Cutout(ctx, img)
	if err != nil {
		return nil, err
	}
	return c.Image, nil
}

// Cutout 分割并合成，流程：
// 1. 转 NRGBA，必要时缩小
// 2. 在缩小后的图上按 margin 求先验矩形并分割
// 3. 掩码放大回原分辨率，与原图合成
// 4. 可选裁到主体
func (r *GrabCutRemover) Cutout(ctx context.Context, img image.Image) (*Cutout, error) {
	logger := r.logger()
	src := toNRGBA(img)

	work, scaled := resizeWithinMax(src, r.MaxDimension)
	if scaled {
		logger.Debug("downscaled for segmentation",
			"from", src.Bounds().Size(), "to", work.Bounds().Size())
	}

	rect, err := PriorRect(work.Bounds(), r.Margin)
	if err != nil {
		return nil, err
	}

	opts := segment.DefaultOptions()
	opts.MaxIterations = r.MaxIterations
	opts.Neighborhood = r.Neighborhood
	opts.Logger = logger
	res, err := segment.NewSegmenter(opts).Run(ctx, work, rect)
	if err != nil {
		return nil, err
	}

	mask := Mask(res.Labels)
	if scaled {
		mask = scaleMask(mask, src.Bounds().Size())
	}
	out, err := applyMask(src, mask)
	if err != nil {
		return nil, err
	}
	if r.Trim {
		out = Trim(out)
	}

	return &Cutout{Image: out, Mask: mask, Result: res, Scaled: scaled}, nil
}

func (r *GrabCutRemover) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
