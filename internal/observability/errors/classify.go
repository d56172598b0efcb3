package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/dxpops/conductor/internal/errors"
)

// Classify returns a normalized error class suitable for tagging metrics/logs.
// Known taxonomy classes (throttled, transient, fatal, cancelled) and application error
// codes take precedence; anything else falls back to the innermost concrete type name.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if goerrors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var appErr *apperrors.AppError
	if goerrors.As(err, &appErr) {
		return string(appErr.Code)
	}

	switch kind := apperrors.KindOf(err); kind {
	case apperrors.KindThrottled, apperrors.KindCancelled, apperrors.KindFatal:
		return string(kind)
	}
	var transient *apperrors.TransientError
	if goerrors.As(err, &transient) {
		return string(apperrors.KindTransient)
	}

	return typeName(err)
}

// typeName unwraps to the innermost error and converts its type to snake_case-ish.
func typeName(err error) string {
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
