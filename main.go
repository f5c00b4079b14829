package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaos-io/cutout/batch"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/cutout"
	"github.com/chaos-io/cutout/server"
	"github.com/chaos-io/cutout/util"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run 返回进程退出码：批处理总是 0，单张失败为 1，配置错误或输入目录缺失为 1
func run(args []string, stderr io.Writer) int {
	def := config.DefaultConfig()
	fs := flag.NewFlagSet("cutout", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath   string
		input        string
		output       string
		single       string
		margin       float64
		verbose      bool
		iterations   int
		maxDim       int
		neighborhood int
		workers      int
		trim         bool
		preview      string
		schedule     string
		serve        string
		allowURL     bool
		timeout      time.Duration
	)
	fs.StringVar(&configPath, "config", "", "YAML config file")
	fs.StringVar(&input, "input", def.Input, "input directory")
	fs.StringVar(&input, "i", def.Input, "shorthand for -input")
	fs.StringVar(&output, "output", def.Output, "output directory")
	fs.StringVar(&output, "o", def.Output, "shorthand for -output")
	fs.StringVar(&single, "single", "", "process a single file or http(s) URL")
	fs.StringVar(&single, "s", "", "shorthand for -single")
	fs.Float64Var(&margin, "margin", def.Margin, "margin ratio for the prior rectangle, in [0, 0.5)")
	fs.Float64Var(&margin, "m", def.Margin, "shorthand for -margin")
	fs.BoolVar(&verbose, "verbose", false, "debug logging")
	fs.BoolVar(&verbose, "v", false, "shorthand for -verbose")
	fs.IntVar(&iterations, "iterations", def.MaxIterations, "segmentation iteration limit")
	fs.IntVar(&maxDim, "max-dim", def.MaxDimension, "downscale longest side before segmentation, 0 disables")
	fs.IntVar(&neighborhood, "neighborhood", def.Neighborhood, "pixel neighborhood, 4 or 8")
	fs.IntVar(&workers, "workers", def.Workers, "images processed concurrently")
	fs.BoolVar(&trim, "trim", false, "crop output to the subject")
	fs.StringVar(&preview, "preview", "", "also write a preview over this hex color, e.g. #ffffff")
	fs.StringVar(&schedule, "schedule", "", "re-run the batch on a cron schedule")
	fs.StringVar(&serve, "serve", "", "serve HTTP on this address instead of processing files")
	fs.BoolVar(&allowURL, "allow-url", false, "let the HTTP server fetch images from ?url=")
	fs.DurationVar(&timeout, "timeout", 0, "per-image deadline, 0 disables")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg := def
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// 命令行显式给出的参数覆盖配置文件
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input", "i":
			cfg.Input = input
		case "output", "o":
			cfg.Output = output
		case "single", "s":
			cfg.Single = single
		case "margin", "m":
			cfg.Margin = margin
		case "verbose", "v":
			if verbose {
				cfg.Log.Level = "debug"
			}
		case "iterations":
			cfg.MaxIterations = iterations
		case "max-dim":
			cfg.MaxDimension = maxDim
		case "neighborhood":
			cfg.Neighborhood = neighborhood
		case "workers":
			cfg.Workers = workers
		case "trim":
			cfg.Trim = trim
		case "preview":
			cfg.Preview = preview
		case "schedule":
			cfg.Schedule = schedule
		case "serve":
			cfg.Server.Addr = serve
		case "allow-url":
			cfg.Server.AllowURL = allowURL
		case "timeout":
			cfg.Timeout = timeout
		}
	})

	logger := util.NewLogger(cfg.Log.Level, cfg.Log.Format, stderr)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remover := cfg.Remover(logger)

	if cfg.Server.Addr != "" {
		return serveHTTP(ctx, cfg, remover, logger)
	}

	p := &batch.Pipeline{
		Remover:   remover,
		Workers:   cfg.Workers,
		OutputDir: cfg.Output,
		Timeout:   cfg.Timeout,
		Logger:    logger,
	}
	if cfg.Preview != "" {
		matte, _ := cutout.ParseMatte(cfg.Preview)
		p.Preview = &matte
	}

	if cfg.Single != "" {
		report, err := p.RunFile(ctx, cfg.Single)
		if err != nil {
			logger.Error("single image failed", "file", cfg.Single, "err", err)
			return 1
		}
		if report.Failed > 0 {
			return 1
		}
		return 0
	}

	if _, err := p.RunDir(ctx, cfg.Input); err != nil {
		logger.Error("batch failed", "input", cfg.Input, "err", err)
		return 1
	}

	if cfg.Schedule != "" {
		logger.Info("scheduled", "schedule", cfg.Schedule)
		err := batch.Schedule(ctx, cfg.Schedule, func(ctx context.Context) {
			if _, err := p.RunDir(ctx, cfg.Input); err != nil {
				logger.Error("scheduled batch failed", "input", cfg.Input, "err", err)
			}
		})
		if err != nil {
			logger.Error("schedule failed", "err", err)
			return 1
		}
	}
	return 0
}

func serveHTTP(ctx context.Context, cfg *config.Config, remover *cutout.GrabCutRemover, logger *slog.Logger) int {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(remover, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logger.Error("server stopped", "err", err)
		return 1
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
		return 1
	}
	return 0
}
