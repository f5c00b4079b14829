// Package config 负责加载抠图工具的 YAML 配置，文件不存在时使用默认值。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/chaos-io/cutout/cutout"
	"github.com/chaos-io/cutout/errs"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/util"
)

type Config struct {
	// Input 批处理的输入目录
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
	// Single 单张模式的文件路径或 URL，非空时忽略 Input
	Single string `yaml:"single,omitempty"`

	Margin        float64 `yaml:"margin"`
	MaxIterations int     `yaml:"maxIterations"`
	MaxDimension  int     `yaml:"maxDimension"`
	Neighborhood  int     `yaml:"neighborhood"`
	// Workers 并发处理的图片数，0 表示 CPU 核数
	Workers int  `yaml:"workers"`
	Trim    bool `yaml:"trim"`
	// Preview 预览底色，如 "#ffffff"，为空不输出预览
	Preview string `yaml:"preview,omitempty"`
	// Schedule 标准 cron 表达式，为空只运行一次
	Schedule string `yaml:"schedule,omitempty"`
	// Timeout 单张图片的处理上限，0 不限制
	Timeout time.Duration `yaml:"timeout"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr,omitempty"`
		// AllowURL 允许 /v1/remove 通过 ?url= 拉取远程图片，默认关闭
		AllowURL bool `yaml:"allowURL"`
	} `yaml:"server"`
}

func DefaultConfig() *Config {
	opts := segment.DefaultOptions()
	cfg := &Config{
		Input:         "images",
		Output:        "output",
		Margin:        cutout.DefaultMargin,
		MaxIterations: opts.MaxIterations,
		MaxDimension:  800,
		Neighborhood:  opts.Neighborhood,
		Workers:       runtime.NumCPU(),
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// LoadConfig 读取 YAML 配置，文件不存在时返回默认配置
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errs.New(errs.KindInvalidConfiguration, "error reading config file", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.New(errs.KindInvalidConfiguration, "error parsing config file", err)
	}
	return cfg, nil
}

func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Validate 检查取值范围，错误类别均为 InvalidConfiguration
func (c *Config) Validate() error {
	if c.Margin < 0 || c.Margin >= 0.5 {
		return errs.InvalidConfiguration("margin must be in [0, 0.5), got %v", c.Margin)
	}
	if c.MaxIterations < 1 {
		return errs.InvalidConfiguration("max iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxDimension < 0 {
		return errs.InvalidConfiguration("max dimension must not be negative, got %d", c.MaxDimension)
	}
	if c.Neighborhood != 4 && c.Neighborhood != 8 {
		return errs.InvalidConfiguration("neighborhood must be 4 or 8, got %d", c.Neighborhood)
	}
	if c.Workers < 0 {
		return errs.InvalidConfiguration("workers must not be negative, got %d", c.Workers)
	}
	if c.Timeout < 0 {
		return errs.InvalidConfiguration("timeout must not be negative, got %v", c.Timeout)
	}
	if _, err := util.ParseLevel(c.Log.Level); err != nil {
		return errs.New(errs.KindInvalidConfiguration, "log level", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errs.InvalidConfiguration("log format must be text or json, got %q", c.Log.Format)
	}
	if c.Preview != "" {
		if _, err := cutout.ParseMatte(c.Preview); err != nil {
			return err
		}
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return errs.New(errs.KindInvalidConfiguration, "schedule", err)
		}
	}
	return nil
}

// Remover 按配置构造抠图器
func (c *Config) Remover(logger *slog.Logger) *cutout.GrabCutRemover {
	return &cutout.GrabCutRemover{
		Margin:        c.Margin,
		MaxIterations: c.MaxIterations,
		MaxDimension:  c.MaxDimension,
		Neighborhood:  c.Neighborhood,
		Trim:          c.Trim,
		Logger:        logger,
	}
}
