// Package server 提供抠图的 HTTP 接口。
package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/cutout"
	"github.com/chaos-io/cutout/errs"
	"github.com/chaos-io/cutout/util"
)

const requestIDHeader = "X-Request-Id"

type handler struct {
	remover  *cutout.GrabCutRemover
	timeout  time.Duration
	allowURL bool
	logger   *slog.Logger
}

// New 注册路由：
//
//	GET  /healthz
//	POST /v1/remove  multipart 字段 image 或 ?url=，可选 ?margin= ?iterations=，返回 PNG
//
// ?url= 只有在 cfg.Server.AllowURL 打开时可用。
func New(remover *cutout.GrabCutRemover, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{remover: remover, timeout: cfg.Timeout, allowURL: cfg.Server.AllowURL, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestID())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/v1/remove", h.remove)
	return r
}

func (h *handler) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()
		h.logger.Info("request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func (h *handler) remove(c *gin.Context) {
	remover, err := h.withOverrides(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	img, err := h.load(ctx, c)
	if err != nil {
		h.fail(c, err)
		return
	}

	out, err := remover.Remove(ctx, img)
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// withOverrides 复制一份 remover，应用查询参数
func (h *handler) withOverrides(c *gin.Context) (*cutout.GrabCutRemover, error) {
	r := *h.remover
	r.Logger = h.logger.With("request_id", c.GetString("request_id"))

	if v := c.Query("margin"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errs.InvalidConfiguration("margin %q is not a number", v)
		}
		r.Margin = m
	}
	if v := c.Query("iterations"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.InvalidConfiguration("iterations %q is not an integer", v)
		}
		r.MaxIterations = n
	}
	return &r, nil
}

func (h *handler) load(ctx context.Context, c *gin.Context) (image.Image, error) {
	if u := c.Query("url"); u != "" {
		if !h.allowURL {
			return nil, errs.InvalidConfiguration("url input is disabled on this server")
		}
		if !util.IsURL(u) {
			return nil, errs.InvalidConfiguration("url %q must be http or https", u)
		}
		return util.DownloadImage(ctx, u)
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, util.MaxDownloadBytes)
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, errs.InvalidConfiguration("multipart field \"image\" or query \"url\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errs.UnreadableFile(fh.Filename, err)
	}
	defer func() {
		_ = f.Close()
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errs.UnreadableFile(fh.Filename, err)
	}
	return img, nil
}

func (h *handler) fail(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind, err)
	h.logger.Warn("remove failed",
		"request_id", c.GetString("request_id"),
		"kind", kind,
		"err", err,
	)
	c.AbortWithStatusJSON(status, gin.H{"error": publicMessage(err, status), "kind": kind})
}

// publicMessage 返回给调用方的错误信息，不带底层原因，原因只写日志
func publicMessage(err error, status int) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return string(e.Kind) + ": " + e.Message
	}
	return http.StatusText(status)
}

func statusFor(kind errs.Kind, err error) int {
	switch kind {
	case errs.KindInvalidRegion, errs.KindInvalidConfiguration, errs.KindUnsupportedFormat:
		return http.StatusBadRequest
	case errs.KindUnreadableFile, errs.KindDegenerateImage:
		return http.StatusUnprocessableEntity
	case errs.KindSolverDivergence:
		return http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
