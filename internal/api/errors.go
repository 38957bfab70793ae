package api

import (
	"context"
	"errors"

	"github.com/viora/downloader/internal/download"
	apperrors "github.com/viora/downloader/internal/errors"
	"github.com/viora/downloader/internal/fetch"
)

// toAppError maps orchestrator and engine errors onto API error codes.
// Errors that are already AppErrors pass through unchanged.
func toAppError(err error, id int64, url string) error {
	var appErr *apperrors.AppError
	if err == nil || errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, download.ErrTaskNotFound):
		return apperrors.TaskNotFound(id)
	case errors.Is(err, download.ErrInvalidURL):
		return apperrors.InvalidURL(url)
	case errors.Is(err, download.ErrCannotToggle):
		return apperrors.CannotToggle("")
	case errors.Is(err, download.ErrInvalidTransition):
		return apperrors.InvalidTransition(err.Error())
	case errors.Is(err, download.ErrInvalidWorkerCount):
		return apperrors.ValidationError(err.Error())
	case errors.Is(err, download.ErrPoolStopped), errors.Is(err, download.ErrPoolRunning):
		return apperrors.PoolError(err.Error()).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.ExternalTimeout("upstream")
	case fetch.IsPermanent(err):
		return apperrors.FetchError(err.Error()).WithCause(err)
	}
	return apperrors.InternalError("internal server error").WithCause(err)
}
