package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsMismatch(err):
		return http.StatusForbidden
	case domain.IsConflict(err):
		return http.StatusConflict
	case domain.IsCardDeclined(err):
		return http.StatusPaymentRequired
	case domain.IsUpstream(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var (
		conflict domain.ConflictError
		declined domain.CardDeclinedError
		internal domain.InternalError
	)
	switch {
	case errors.As(err, &conflict):
		resp.Reason = string(conflict.Reason)
	case errors.As(err, &declined):
		resp.Reason = declined.Code
	case status == http.StatusInternalServerError:
		// wrapped causes stay in the log
		resp.Error = "internal error"
		if errors.As(err, &internal) && internal.Msg != "" {
			resp.Error = internal.Msg
		}
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}
