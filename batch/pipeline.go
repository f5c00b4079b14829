package batch

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"net/url"
	"os"
	"path"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/chaos-io/cutout/cutout"
	"github.com/chaos-io/cutout/errs"
	"github.com/chaos-io/cutout/util"
)

// Report 一次批处理的汇总
type Report struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Failures  map[string]error
	Elapsed   time.Duration
}

// Summary 形如 "2/3 images processed successfully"
func (r *Report) Summary() string {
	return fmt.Sprintf("%d/%d images processed successfully", r.Succeeded, r.Total)
}

// Pipeline 读取、抠图、写出 PNG
type Pipeline struct {
	Remover   cutout.BackgroundRemover
	Workers   int
	OutputDir string
	// Timeout 单张图片的处理上限，0 不限制
	Timeout time.Duration
	// Preview 非 nil 时额外输出合成到该底色上的预览图
	Preview *color.NRGBA
	Logger  *slog.Logger
}

// RunDir 处理目录下所有支持的图片。
// 输入目录不存在或输出目录无法创建时返回错误；没有图片时只记录警告。
func (p *Pipeline) RunDir(ctx context.Context, srcDir string) (*Report, error) {
	logger := p.logger()

	info, err := os.Stat(srcDir)
	if err != nil {
		return nil, errs.UnreadableFile(srcDir, err)
	}
	if !info.IsDir() {
		return nil, errs.UnreadableFile(srcDir, fmt.Errorf("not a directory"))
	}
	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return nil, errs.UnreadableFile(p.OutputDir, err)
	}

	files, err := Discover(srcDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		logger.Warn("no image files found", "dir", srcDir, "extensions", Extensions)
		return newReport(), nil
	}
	logger.Info("found images", "count", len(files), "dir", srcDir)

	return p.run(ctx, p.sources(files)), nil
}

// sources 为每个文件构造 Source。a.jpg 和 a.png 会写到同一个输出文件，
// 排序在后的那个直接记为失败。
func (p *Pipeline) sources(files []string) []Source {
	owner := make(map[string]string, len(files))
	sources := make([]Source, len(files))
	for i, f := range files {
		dst := OutputPath(p.OutputDir, f)
		if first, ok := owner[dst]; ok {
			err := errs.UnreadableFile(f, fmt.Errorf("output %s is already written by %s", dst, first))
			sources[i] = Source{ID: f, Load: func() (image.Image, error) { return nil, err }}
			continue
		}
		owner[dst] = f
		sources[i] = Source{ID: f, Load: func() (image.Image, error) { return util.OpenImage(f) }}
	}
	return sources
}

// RunFile 处理单个本地文件或 http(s) 地址
func (p *Pipeline) RunFile(ctx context.Context, src string) (*Report, error) {
	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return nil, errs.UnreadableFile(p.OutputDir, err)
	}

	source := Source{ID: src}
	if util.IsURL(src) {
		source.Load = func() (image.Image, error) { return util.DownloadImage(ctx, src) }
	} else {
		source.Load = func() (image.Image, error) {
			if err := CheckFormat(src); err != nil {
				return nil, err
			}
			return util.OpenImage(src)
		}
	}
	return p.run(ctx, []Source{source}), nil
}

func (p *Pipeline) run(ctx context.Context, sources []Source) *Report {
	logger := p.logger()
	report := newReport()
	start := time.Now()

	var done atomic.Int64
	total := len(sources)
	outcomes := each(ctx, sources, p.Workers, func(ctx context.Context, src Source) Outcome {
		out := p.handle(ctx, src)
		n := done.Add(1)
		if out.Err != nil {
			logger.Warn("failed", "n", n, "total", total, "file", src.ID, "kind", errs.KindOf(out.Err), "err", out.Err)
		} else {
			logger.Info("saved", "n", n, "total", total, "file", src.ID, "output", out.Output)
		}
		return out
	})

	for _, o := range outcomes {
		report.Total++
		if o.Err != nil {
			report.Failed++
			report.Failures[o.ID] = o.Err
			continue
		}
		report.Succeeded++
	}
	report.Elapsed = time.Since(start)

	logger.Info(report.Summary(), "run_id", report.RunID, "failed", report.Failed, "elapsed", report.Elapsed)
	return report
}

func (p *Pipeline) handle(ctx context.Context, src Source) Outcome {
	defer util.Trace(p.logger(), src.ID)()

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	img, err := src.Load()
	if err != nil {
		return Outcome{ID: src.ID, Err: err}
	}
	out, err := p.Remover.Remove(ctx, img)
	if err != nil {
		return Outcome{ID: src.ID, Err: err}
	}

	name := outputName(src.ID)
	dst := OutputPath(p.OutputDir, name)
	if err := util.SaveImage(out, dst); err != nil {
		return Outcome{ID: src.ID, Err: err}
	}
	if p.Preview != nil {
		if err := util.SaveImage(cutout.Flatten(out, *p.Preview), PreviewPath(p.OutputDir, name)); err != nil {
			return Outcome{ID: src.ID, Err: err}
		}
	}
	return Outcome{ID: src.ID, Output: dst}
}

// outputName URL 取路径最后一段作为文件名
func outputName(id string) string {
	if !util.IsURL(id) {
		return id
	}
	u, err := url.Parse(id)
	if err != nil || path.Base(u.Path) == "/" || path.Base(u.Path) == "." {
		return "download"
	}
	return path.Base(u.Path)
}

func newReport() *Report {
	return &Report{
		RunID:    ksuid.New().String(),
		Failures: map[string]error{},
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
