package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"
	"natours/pkg/logging"
)

// 错误类别
const (
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeBadRequest   = "bad_request"
	CodeUnavailable  = "storage_unavailable"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeRateLimited  = "rate_limited"
	CodeTooLarge     = "payload_too_large"
	CodeInternal     = "internal_error"
)

// RetryAfterSeconds 存储不可用时建议的重试间隔
const RetryAfterSeconds = 5

// Error 带 HTTP 状态码的错误
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// New 构造 *Error
func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Errorf 构造带格式化消息的 *Error
func Errorf(status int, code, format string, args ...any) *Error {
	return &Error{Status: status, Code: code, Err: fmt.Errorf(format, args...)}
}

// Unauthorized 401
func Unauthorized(msg string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Err: errors.New(msg)}
}

// Forbidden 403
func Forbidden(msg string) *Error {
	return &Error{Status: http.StatusForbidden, Code: CodeForbidden, Err: errors.New(msg)}
}

// NotFound 404
func NotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Err: errors.New(msg)}
}

// errorBody 失败响应
type errorBody struct {
	Status  string             `json:"status"`
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Errors  []model.FieldError `json:"errors,omitempty"`
}

// Classify 把领域错误映射为 HTTP 错误
func Classify(err error) *Error {
	var he *Error
	if errors.As(err, &he) {
		return he
	}
	var ve *model.ValidationError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		return New(http.StatusBadRequest, CodeValidation, err)
	case errors.Is(err, storage.ErrNotFound):
		return New(http.StatusNotFound, CodeNotFound, err)
	case errors.Is(err, storage.ErrDuplicate):
		return New(http.StatusConflict, CodeConflict, err)
	case errors.Is(err, query.ErrBadRequest), errors.Is(err, storage.ErrInvalidQuery):
		return New(http.StatusBadRequest, CodeBadRequest, err)
	case errors.As(err, &mbe):
		return New(http.StatusRequestEntityTooLarge, CodeTooLarge, err)
	case storage.IsRetryable(err):
		return New(http.StatusServiceUnavailable, CodeUnavailable, err)
	default:
		return New(http.StatusInternalServerError, CodeInternal, err)
	}
}

// WriteError 写入失败响应
//
// 5xx 的原始错误只写日志，响应中使用通用消息。
func WriteError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	he := Classify(err)

	body := errorBody{Status: StatusFail, Error: he.Code, Message: he.Error()}
	if he.Status >= 500 {
		body.Status = StatusError
		body.Message = "something went very wrong"
		if he.Code == CodeUnavailable {
			body.Message = "storage temporarily unavailable, please retry"
			w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		}
		if logger != nil {
			logger.WithContext(r.Context()).WithError(err).Error("request failed",
				"method", r.Method, "path", r.URL.Path, "status", he.Status)
		}
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body.Errors = ve.Fields
	}
	WriteJSON(w, he.Status, body)
}
