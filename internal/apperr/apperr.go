// Package apperr carries a tagged failure kind through error chains so that
// front ends can pick a status code without inspecting message text.
package apperr

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration marks missing or invalid credentials and target settings.
	KindConfiguration
	// KindSelectorTimeout marks a required DOM element that never became visible.
	KindSelectorTimeout
	// KindNavigation marks a page load that failed or timed out.
	KindNavigation
	// KindAuthentication marks a login form that could not be driven to submission.
	KindAuthentication
	// KindBrowserLaunch marks a browser process that could not be started.
	KindBrowserLaunch
	// KindBrowserCrash marks a browser that died while a task was using it.
	KindBrowserCrash
	// KindVerification is diagnostic only and is never returned to callers.
	KindVerification
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindConfiguration:   "configuration",
	KindSelectorTimeout: "selector_timeout",
	KindNavigation:      "navigation",
	KindAuthentication:  "authentication",
	KindBrowserLaunch:   "browser_launch",
	KindBrowserCrash:    "browser_crash",
	KindVerification:    "verification",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is a failure tagged with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error

	stack []byte
}

// New creates a tagged error without an underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, stack: debug.Stack()}
}

// Wrap tags err with kind. The cause stays reachable through errors.Is and errors.As.
func Wrap(kind Kind, op string, err error, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err, stack: debug.Stack()}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Stack returns the goroutine stack captured when the error was created.
func (e *Error) Stack() string { return string(e.stack) }

// KindOf returns the kind of the outermost tagged error in err's chain.
// Untagged deadline errors count as navigation timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNavigation
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Has reports whether any tagged error anywhere in err's chain carries kind.
func Has(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if Has(inner, kind) {
					return true
				}
			}
			return false
		}
		err = errors.Unwrap(err)
	}
	return false
}

// StackOf returns the captured stack of the outermost tagged error, if any.
func StackOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stack()
	}
	return ""
}

// HTTPStatus maps a failure kind to the status code reported to HTTP callers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindConfiguration:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindSelectorTimeout, KindNavigation:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
