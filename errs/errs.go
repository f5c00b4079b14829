// Package errs 定义抠图流程中的错误分类
package errs

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	KindInvalidRegion        Kind = "invalid_region"
	KindDegenerateImage      Kind = "degenerate_image"
	KindInvalidConfiguration Kind = "invalid_configuration"
	KindUnreadableFile       Kind = "unreadable_file"
	KindUnsupportedFormat    Kind = "unsupported_format"
	KindSolverDivergence     Kind = "solver_divergence"
)

// Error 带类别的错误，可以通过 errors.Is 和同类哨兵比较
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 同类别即视为相等
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// 哨兵错误，用于 errors.Is
var (
	ErrInvalidRegion        = &Error{Kind: KindInvalidRegion, Message: "invalid region"}
	ErrDegenerateImage      = &Error{Kind: KindDegenerateImage, Message: "degenerate image"}
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration, Message: "invalid configuration"}
	ErrUnreadableFile       = &Error{Kind: KindUnreadableFile, Message: "unreadable file"}
	ErrUnsupportedFormat    = &Error{Kind: KindUnsupportedFormat, Message: "unsupported format"}
	ErrSolverDivergence     = &Error{Kind: KindSolverDivergence, Message: "solver divergence"}
)

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func InvalidRegion(format string, args ...any) *Error {
	return New(KindInvalidRegion, fmt.Sprintf(format, args...), nil)
}

func DegenerateImage(format string, args ...any) *Error {
	return New(KindDegenerateImage, fmt.Sprintf(format, args...), nil)
}

func InvalidConfiguration(format string, args ...any) *Error {
	return New(KindInvalidConfiguration, fmt.Sprintf(format, args...), nil)
}

func UnreadableFile(name string, cause error) *Error {
	return New(KindUnreadableFile, name, cause)
}

func UnsupportedFormat(format string, args ...any) *Error {
	return New(KindUnsupportedFormat, fmt.Sprintf(format, args...), nil)
}

func SolverDivergence(format string, args ...any) *Error {
	return New(KindSolverDivergence, fmt.Sprintf(format, args...), nil)
}

// KindOf 取出错误链上第一个 *Error 的类别，没有则返回空
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
