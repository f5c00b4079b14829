// Package segment 实现基于矩形先验的前景/背景分割：
// 用高斯混合颜色模型给出数据项，用相邻像素颜色梯度给出平滑项，
// 在网格图上求最小割迭代细化标记。
package segment

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"github.com/chaos-io/cutout/errs"
)

// MinImageSize 计算梯度所需的最小邻域窗口
const MinImageSize = 3

type Options struct {
	// 最大迭代次数，标记不再变化时提前结束
	MaxIterations int
	// 邻域大小，4 或 8
	Neighborhood int
	// 平滑项权重
	Gamma float64

	Logger *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		MaxIterations: 5,
		Neighborhood:  8,
		Gamma:         50,
	}
}

// Step 单次迭代的记录。两个能量都在本轮颜色模型下计算。
type Step struct {
	Iteration    int
	Changed      int
	Foreground   int
	EnergyBefore float64
	EnergyAfter  float64
}

type Result struct {
	Labels     *LabelGrid
	Iterations int
	Converged  bool
	Steps      []Step
}

type Segmenter struct {
	opts Options
	log  *slog.Logger
}

func NewSegmenter(opts Options) *Segmenter {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{opts: opts, log: log}
}

// Segment 用默认参数分割，rect 为图像坐标下的先验矩形
func Segment(img image.Image, rect image.Rectangle, maxIterations int) (*LabelGrid, error) {
	opts := DefaultOptions()
	opts.MaxIterations = maxIterations
	res, err := NewSegmenter(opts).Run(context.Background(), img, rect)
	if err != nil {
		return nil, err
	}
	return res.Labels, nil
}

func (s *Segmenter) validate(b, rect image.Rectangle) error {
	if s.opts.MaxIterations < 1 {
		return errs.InvalidConfiguration("max iterations must be positive, got %d", s.opts.MaxIterations)
	}
	if s.opts.Neighborhood != 4 && s.opts.Neighborhood != 8 {
		return errs.InvalidConfiguration("neighborhood must be 4 or 8, got %d", s.opts.Neighborhood)
	}
	if s.opts.Gamma <= 0 {
		return errs.InvalidConfiguration("gamma must be positive, got %v", s.opts.Gamma)
	}
	if b.Dx() < MinImageSize || b.Dy() < MinImageSize {
		return errs.DegenerateImage("image %dx%d is smaller than %dx%d", b.Dx(), b.Dy(), MinImageSize, MinImageSize)
	}
	if rect.Empty() {
		return errs.InvalidRegion("prior rectangle %v is empty", rect)
	}
	if !rect.In(b) {
		return errs.InvalidRegion("prior rectangle %v is outside image bounds %v", rect, b)
	}
	if rect.Eq(b) {
		return errs.InvalidRegion("prior rectangle %v covers the whole image, no background sample", rect)
	}
	return nil
}

// Run 初始化标记后循环：拟合颜色模型 → 构造代价 → 最小割 → 重标 probable 像素，
// 直到没有像素变化或达到迭代上限。输入图像不会被修改。
func (s *Segmenter) Run(ctx context.Context, img image.Image, rect image.Rectangle) (*Result, error) {
	b := img.Bounds()
	if err := s.validate(b, rect); err != nil {
		return nil, err
	}

	w, h, k := b.Dx(), b.Dy(), s.opts.Neighborhood
	pix := colors(img)

	labels := NewLabelGrid(w, h)
	labels.InitFromRect(rect.Sub(b.Min))

	sm := computeSmoothness(pix, w, h, k, s.opts.Gamma)
	lambda := float64(k+1) * s.opts.Gamma
	g := newGridGraph(w, h, k)
	fgCost := make([]float64, w*h)
	bgCost := make([]float64, w*h)

	res := &Result{Labels: labels}
	for it := 1; it <= s.opts.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("segment: iteration %d: %w", it, err)
		}

		fgSamples, bgSamples := samples(pix, labels)
		if len(fgSamples) == 0 {
			// 前景已经为空，全背景是合法结果
			res.Converged = true
			break
		}
		fgd, err := FitColorModel(fgSamples)
		if err != nil {
			return nil, fmt.Errorf("segment: foreground model: %w", err)
		}
		bgd, err := FitColorModel(bgSamples)
		if err != nil {
			return nil, fmt.Errorf("segment: background model: %w", err)
		}

		dataCosts(pix, labels, fgd, bgd, lambda, fgCost, bgCost)
		before := energy(labels, fgCost, bgCost, sm)

		if err := g.reset(fgCost, bgCost, sm); err != nil {
			return nil, err
		}
		if _, err := g.maxFlow(ctx); err != nil {
			return nil, fmt.Errorf("segment: iteration %d: %w", it, err)
		}

		changed := 0
		for p, l := range labels.Labels {
			if l.IsDefinite() {
				continue
			}
			next := ProbableBackground
			if g.inSource(p) {
				next = ProbableForeground
			}
			if next != l {
				labels.Labels[p] = next
				changed++
			}
		}

		fg, _ := labels.Counts()
		step := Step{
			Iteration:    it,
			Changed:      changed,
			Foreground:   fg,
			EnergyBefore: before,
			EnergyAfter:  energy(labels, fgCost, bgCost, sm),
		}
		res.Steps = append(res.Steps, step)
		res.Iterations = it

		s.log.Debug("segment iteration",
			"iteration", it,
			"changed", changed,
			"foreground", fg,
			"fgComponents", fgd.Len(),
			"bgComponents", bgd.Len(),
			"energy", step.EnergyAfter)

		if changed == 0 {
			res.Converged = true
			break
		}
	}
	return res, nil
}

func samples(pix []Color, labels *LabelGrid) (fg, bg []Color) {
	nfg, _ := labels.Counts()
	fg = make([]Color, 0, nfg)
	bg = make([]Color, 0, len(pix)-nfg)
	for p, l := range labels.Labels {
		if l.IsForeground() {
			fg = append(fg, pix[p])
		} else {
			bg = append(bg, pix[p])
		}
	}
	return fg, bg
}

// colors 把图像展开成行优先的 RGB 数组，忽略 alpha
func colors(img image.Image) []Color {
	b := img.Bounds()
	w := b.Dx()
	out := make([]Color, 0, w*b.Dy())

	switch src := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < w; x++ {
				out = append(out, Color{float64(row[x*4]), float64(row[x*4+1]), float64(row[x*4+2])})
			}
		}
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < w; x++ {
				out = append(out, Color{float64(row[x*4]), float64(row[x*4+1]), float64(row[x*4+2])})
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				out = append(out, Color{float64(c.R), float64(c.G), float64(c.B)})
			}
		}
	}
	return out
}
