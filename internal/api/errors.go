package api

import (
	"errors"
	"net/http"

	"github.com/grimoirekb/grimoire/internal/api/shared"
	"github.com/grimoirekb/grimoire/internal/task"
)

// MapErrorToStatusCode maps task engine errors to HTTP status codes.
// Unknown errors are never surfaced verbatim; they become a generic
// internal server error.
func MapErrorToStatusCode(err error) int {
	switch task.CodeOf(err) {
	case task.CodeNotFound, task.CodeExecutorNotFound:
		return http.StatusNotFound
	case task.CodeValidationFailed:
		return http.StatusBadRequest
	case task.CodeInvalidStatus, task.CodeMaxRetriesExceeded:
		return http.StatusConflict
	case task.CodeDependenciesNotSatisfied:
		return http.StatusPreconditionFailed
	case task.CodeExecutionTimeout:
		return http.StatusGatewayTimeout
	case task.CodeExecutionFailed, task.CodeTaskCreationFailed,
		task.CodeCancelFailed, task.CodeRetryFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError writes the JSON error response for a task engine
// error, exposing the code and message of coded errors and a generic
// message for anything else.
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := MapErrorToStatusCode(err)

	var coded *task.Error
	if errors.As(err, &coded) {
		shared.RespondWithErrorCode(w, r, status, string(coded.Code), coded.Message)
		return
	}

	shared.RespondWithError(w, r, status, "An unexpected error occurred")
}
