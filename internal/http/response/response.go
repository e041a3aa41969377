package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Service string `json:"service,omitempty"`
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

// RespondAPIError maps any error onto the closed error taxonomy and writes
// the envelope with the status that kind carries.
func RespondAPIError(c *gin.Context, err error) {
	ae := apierr.From(err)
	c.JSON(ae.Status(), ErrorEnvelope{
		Error: APIError{
			Message: ae.Error(),
			Code:    string(ae.Kind),
			Service: string(ae.Service),
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
