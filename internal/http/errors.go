package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/logging"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// statusOf maps a failure to the status code it is reported with.
func statusOf(err error) int {
	if errors.Is(err, repository.ErrInvalidTransition) {
		return http.StatusConflict
	}
	switch errkind.KindOf(err) {
	case errkind.Validation, errkind.Configuration:
		return http.StatusBadRequest
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.DuplicateRequest:
		return http.StatusConflict
	case errkind.Ingestion:
		return http.StatusUnprocessableEntity
	case errkind.Transcription, errkind.Synthesis, errkind.Translation, errkind.Retrieval, errkind.Generation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse describes err for the client.
func errorResponse(err error) ErrorResponse {
	kind := errkind.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Stage: errkind.StageOf(err)}
	if kind != errkind.Unknown {
		resp.Kind = string(kind)
	}
	return resp
}

func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			_ = c.JSON(he.Code, ErrorResponse{Error: msg})
			return
		}

		status := statusOf(err)
		resp := errorResponse(err)
		if status >= http.StatusInternalServerError {
			logger.Error(ctx, "request failed", zap.Error(err), zap.String("kind", resp.Kind))
			if status == http.StatusInternalServerError {
				resp.Error = "internal error"
			}
		}
		_ = c.JSON(status, resp)
	}
}
