package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/server/middleware"
)

// writeServiceError maps the error taxonomy to a status and envelope. Unclassified errors
// are logged and reported as 500 without their message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.Error(ctx, "http: request failed", slog.Any("err", errs.Loggable(err)))
		msg = "internal error"
	}
	middleware.WriteError(w, status, code, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errs.ErrAlreadyLabeled):
		return http.StatusConflict, "already_labeled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
