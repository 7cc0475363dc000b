package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperr "github.com/lorebound/lorebound-backend/internal/pkg/errors"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps the service sentinel errors onto HTTP statuses.
// Anything unrecognized is a 500.
func RespondServiceError(c *gin.Context, code string, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case apperr.Is(err, apperr.ErrInvalidArgument):
		status = http.StatusBadRequest
	case apperr.Is(err, apperr.ErrConflict),
		apperr.Is(err, apperr.ErrBoundary),
		apperr.Is(err, apperr.ErrStreamActive):
		status = http.StatusConflict
	}
	RespondError(c, status, code, err)
}
