package batch

import (
	"context"
	"image"

	"github.com/chaos-io/cutout/cutout"
)

// Source 一张待处理的图片，Load 延迟到 worker 中执行
type Source struct {
	ID   string
	Load func() (image.Image, error)
}

type Outcome struct {
	ID     string
	Image  image.Image
	Output string // 写出的文件，未落盘时为空
	Err    error
}

// Process 并发抠图，结果顺序与 sources 一致。
// 单张失败记录在对应 Outcome 中，不影响其余图片。
func Process(ctx context.Context, remover cutout.BackgroundRemover, sources []Source, workers int) []Outcome {
	return each(ctx, sources, workers, func(ctx context.Context, src Source) Outcome {
		img, err := src.Load()
		if err != nil {
			return Outcome{ID: src.ID, Err: err}
		}
		out, err := remover.Remove(ctx, img)
		return Outcome{ID: src.ID, Image: out, Err: err}
	})
}

func each(ctx context.Context, sources []Source, workers int, fn func(context.Context, Source) Outcome) []Outcome {
	outcomes := make([]Outcome, len(sources))

	pool := NewWorkerPool(workers)
	pool.Start()
	defer pool.Close()

	for i, src := range sources {
		pool.Submit(func() {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{ID: src.ID, Err: err}
				return
			}
			outcomes[i] = fn(ctx, src)
		})
	}
	pool.Wait()
	return outcomes
}
