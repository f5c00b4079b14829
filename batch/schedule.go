package batch

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/chaos-io/cutout/errs"
)

// Schedule 按标准 cron 表达式周期执行 job，直到 ctx 取消。
// 上一次还没结束时跳过本次触发。
func Schedule(ctx context.Context, spec string, job func(context.Context)) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { job(ctx) }); err != nil {
		return errs.New(errs.KindInvalidConfiguration, "schedule "+spec, err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
