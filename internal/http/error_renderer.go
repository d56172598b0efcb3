package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
)

// statusClientClosedRequest is the de facto status for requests abandoned by the client.
const statusClientClosedRequest = 499

// ErrorStatus maps an operation error to an HTTP status and a stable error code.
func ErrorStatus(err error) (int, string) {
	var fieldErr *model.FieldError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, string(apperrors.ErrCodeTimeout)
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, string(apperrors.ErrCodeCanceled)
	case errors.As(err, &fieldErr):
		return http.StatusBadRequest, string(apperrors.ErrCodeValidation)
	}

	switch code := apperrors.GetCode(err); code {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound, string(code)
	case apperrors.ErrCodeConflict:
		return http.StatusConflict, string(code)
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest, string(code)
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout, string(code)
	case apperrors.ErrCodeCanceled:
		return statusClientClosedRequest, string(code)
	case apperrors.ErrCodeInternal:
		return http.StatusInternalServerError, string(code)
	}

	var (
		throttled *apperrors.ThrottledError
		transient *apperrors.TransientError
		permanent *apperrors.PermanentError
	)
	switch {
	case errors.As(err, &throttled):
		return http.StatusTooManyRequests, "throttled"
	case errors.As(err, &permanent):
		return http.StatusUnprocessableEntity, "remote_rejected"
	case errors.As(err, &transient):
		return http.StatusBadGateway, "remote_unavailable"
	default:
		return http.StatusInternalServerError, string(apperrors.ErrCodeInternal)
	}
}

// RenderError writes err as a JSON error body. Unclassified failures are logged and their
// message is hidden from the client.
func RenderError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := ErrorStatus(err)
	field := apperrors.GetField(err)
	var fieldErr *model.FieldError
	if field == "" && errors.As(err, &fieldErr) {
		field = fieldErr.Field
	}

	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("error", err),
			)
		}
		err = errors.New("internal error")
	}
	if wait, ok := apperrors.RetryAfter(err); ok && wait > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(wait.Seconds()))
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: code, Err: err, Field: field})
}

func retryAfterSeconds(secs float64) string {
	n := int(secs)
	if float64(n) < secs {
		n++
	}
	return strconv.Itoa(max(n, 1))
}
