package echo

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

// errorStatus maps a use case error onto a status code and a public body.
func errorStatus(err error) (int, errorBody) {
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		return http.StatusNotFound, errorBody{Code: "not_found", Message: "import session not found"}
	case errors.Is(err, app.ErrFileNotFound):
		return http.StatusNotFound, errorBody{Code: "file_not_found", Message: "no original file stored for session"}
	case errors.Is(err, app.ErrSessionExpired):
		return http.StatusGone, errorBody{Code: "session_expired", Message: "import session expired and its data was purged"}
	case errors.Is(err, app.ErrRetryLimitExceeded):
		return http.StatusConflict, errorBody{Code: "retry_limit_exceeded", Message: err.Error()}
	case errors.Is(err, app.ErrSyncInProgress):
		return http.StatusConflict, errorBody{Code: "sync_in_progress", Message: "a sync is already running for this session"}
	case errors.Is(err, app.ErrInvalidTransition):
		return http.StatusConflict, errorBody{Code: "invalid_transition", Message: err.Error()}
	case errors.Is(err, app.ErrInvalidSession):
		return http.StatusBadRequest, errorBody{Code: "invalid_session", Message: err.Error()}
	case errors.Is(err, app.ErrInvalidExportFilter):
		return http.StatusBadRequest, errorBody{Code: "invalid_filter", Message: "filter must be one of all, clean, flagged"}
	default:
		return http.StatusInternalServerError, errorBody{Code: "internal_error", Message: "internal error"}
	}
}

func writeError(c echo.Context, logger *slog.Logger, err error) error {
	status, body := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"session_id", c.Param("id"),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"err", err)
	}
	return c.JSON(status, apiResponse{Error: &body})
}

func badRequest(c echo.Context, code, message string) error {
	return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{Code: code, Message: message}})
}
