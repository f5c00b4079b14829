package http

import (
	"context"
	"time"
)

type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	// Body 支持 io.Reader、[]byte，其余类型按 JSON 序列化
	Body interface{}
	// Response 为 *[]byte 时保存原始响应体，其余非 nil 值按 JSON 解码
	Response interface{}

	Timeout time.Duration
	// MaxBytes 限制响应体大小，<= 0 不限制
	MaxBytes int64
}
