// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"floortwin/internal/modules/floor"
	"floortwin/internal/modules/order"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the ids the store hands out (uuids) and short
// administrative ids such as "T1".
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeFloorError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, floor.ErrBadRequest), errors.Is(err, order.ErrUnknownStatus):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, floor.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, floor.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
