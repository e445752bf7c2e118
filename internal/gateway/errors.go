package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies gateway failures.
type Kind string

const (
	KindAuth           Kind = "auth"
	KindQuota          Kind = "quota"
	KindMalformedInput Kind = "malformed_input"
	KindTimeout        Kind = "timeout"
	KindUnknown        Kind = "unknown"
)

// Reason is the human-readable text surfaced to clients.
func (k Kind) Reason() string {
	switch k {
	case KindAuth:
		return "AI service rejected our credentials"
	case KindQuota:
		return "AI service is rate limited, try again shortly"
	case KindMalformedInput:
		return "AI service could not process the request"
	case KindTimeout:
		return "AI service timed out"
	default:
		return "AI service failed"
	}
}

// Retryable reports whether a later identical call could succeed.
func (k Kind) Retryable() bool {
	return k == KindQuota || k == KindTimeout
}

// Error is returned by every Client in this package.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if b.Len() == 0 {
		b.WriteString("gateway")
	}
	fmt.Fprintf(&b, " %s error", e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps any error to a Kind. A nil error has no kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return kindFromMessage(err.Error())
}

// KindForStatus classifies an upstream HTTP status code.
func KindForStatus(code int) Kind {
	switch code {
	case 401, 403:
		return KindAuth
	case 429:
		return KindQuota
	case 400, 404, 413, 415, 422:
		return KindMalformedInput
	case 408, 504:
		return KindTimeout
	default:
		return KindUnknown
	}
}

func kindFromMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, "unauthenticated", "permission_denied", "unauthorized", "invalid api key", "api key not valid", "invalid x-api-key"):
		return KindAuth
	case containsAny(m, "resource_exhausted", "rate limit", "rate_limit", "quota", "too many requests"):
		return KindQuota
	case containsAny(m, "invalid_argument", "invalid image", "unsupported image", "could not process image"):
		return KindMalformedInput
	case containsAny(m, "deadline exceeded", "deadline_exceeded", "timeout", "timed out"):
		return KindTimeout
	default:
		return KindUnknown
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// wrap turns a provider failure into *Error, preferring the status code when known.
func wrap(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return err
	}
	kind := KindUnknown
	if status != 0 {
		kind = KindForStatus(status)
	}
	if kind == KindUnknown {
		kind = Classify(err)
	}
	return &Error{Kind: kind, Provider: provider, StatusCode: status, Err: err}
}
