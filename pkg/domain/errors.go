package domain

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

var (
	ErrContentRequired   = NewErr(KindValidation, "CONTENT_REQUIRED", "paste content is required", http.StatusBadRequest)
	ErrQueryRequired     = NewErr(KindValidation, "QUERY_REQUIRED", "search query is required", http.StatusBadRequest)
	ErrInvalidRequest    = NewErr(KindValidation, "INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrInvalidCustomURL  = NewErr(KindValidation, "INVALID_CUSTOM_URL", "custom URL cannot be used", http.StatusBadRequest)
	ErrSlugTaken         = NewErr(KindConflict, "CUSTOM_URL_TAKEN", "custom URL is already taken", http.StatusConflict)
	ErrPasteNotFound     = NewErr(KindNotFound, "PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrRateLimitExceeded = NewErr(KindRateLimited, "RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrShuttingDown      = NewErr(KindUnavailable, "SHUTTING_DOWN", "service shutting down", http.StatusServiceUnavailable)
	ErrInternalServer    = NewErr(KindInternal, "INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Kind   Kind   `json:"-"`
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(kind Kind, code, msg string, status int) *Err {
	return &Err{Kind: kind, Code: code, Msg: msg, Status: status}
}

// RateLimitError is returned when a limiter window is exhausted. It matches
// ErrRateLimitExceeded under errors.Is.
type RateLimitError struct {
	Limiter string
	Limit   int
	Window  time.Duration
	Reset   time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests (%d per %s), try again after %s", e.Limit, e.Window, e.Window)
}
func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	d := e.Reset.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func asErr(err error) (*Err, bool) {
	var e *Err
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := asErr(err); ok {
		return e.Kind
	}
	return KindInternal
}
func ToResp(err error) ErrResp {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return ErrResp{Error: ErrDetail{
			Code: ErrRateLimitExceeded.Code,
			Msg:  rl.Error(),
			Meta: map[string]interface{}{
				"limiter":        rl.Limiter,
				"limit":          rl.Limit,
				"window_seconds": int(rl.Window.Seconds()),
			},
		}}
	}
	if e, ok := asErr(err); ok && e.Kind != KindInternal {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: ErrInternalServer.Code, Msg: ErrInternalServer.Msg}}
}
func Status(err error) int {
	if e, ok := asErr(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
