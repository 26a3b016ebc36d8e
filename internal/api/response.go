// Package api implements the HTTP surface over the discussion/decision
// engine: sectors, agents, and discussions, plus deposit/withdraw,
// execution-log, and simulation-control endpoints.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sectorsim/tradesim/internal/domain"
)

// envelope is the "every API response carries {success, error?, reason?}
// or the requested resource" contract.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Field   string `json:"field,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ok writes a 2xx success envelope wrapping data.
func ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// fail maps a domain error to its HTTP status and writes the failure
// envelope, naming the offending field when the error carries one.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	field := ""

	var derr *domain.Error
	if e, ok := err.(*domain.Error); ok {
		derr = e
	}
	if derr != nil {
		field = derr.Field
		msg = derr.Message
		switch derr.Code {
		case domain.ErrCodeValidation:
			status = http.StatusBadRequest
		case domain.ErrCodeNotFound:
			status = http.StatusNotFound
		case domain.ErrCodeContention:
			status = http.StatusConflict
		case domain.ErrCodeState:
			status = http.StatusConflict
		case domain.ErrCodeStorage:
			status = http.StatusInternalServerError
		}
	}

	c.JSON(status, envelope{Success: false, Error: string(errCode(derr)), Reason: msg, Field: field})
}

func errCode(derr *domain.Error) domain.ErrorCode {
	if derr == nil {
		return "INTERNAL"
	}
	return derr.Code
}
