// Package handlers provides the HTTP handlers of the webhook gateway.
//
// This file defines the response envelopes and the helpers that write them.
// Every failure goes through fail(), which also logs 5xx with the
// request-scoped logger.
//
// Example success response:
//
//	HTTP/1.1 201 Created
//	{ "success": true, "action": "created", "message_id": "…", "requestId": "…" }
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wa-inbound-gateway/internal/http/middleware"
	"github.com/tbourn/wa-inbound-gateway/internal/services"
)

// ErrorResponse is the failure envelope returned by all endpoints.
type ErrorResponse struct {
	// Stable, machine-readable code (see errors.go constants)
	Error string `json:"error" example:"validation_failed"`
	// Human-readable message
	Message string `json:"message,omitempty" example:"payload failed validation"`
	// Per-field validation details, or the failing step for store errors
	Details map[string]string `json:"details,omitempty"`
	// Correlates server logs and client errors
	RequestID string `json:"requestId" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// WebhookResponse is the success envelope of POST /webhook.
type WebhookResponse struct {
	Success        bool   `json:"success" example:"true"`
	Action         string `json:"action" example:"processed_and_forwarded" enums:"created,updated,duplicate_skipped,duplicate_prevented,processed_and_forwarded"`
	MessageID      string `json:"message_id"`
	WorkspaceID    string `json:"workspace_id"`
	ConversationID string `json:"conversation_id"`
	ContactID      string `json:"contact_id,omitempty"`
	ConnectionID   string `json:"connection_id,omitempty"`
	Instance       string `json:"instance,omitempty"`
	PhoneNumber    string `json:"phone_number,omitempty"`
	AssignedUserID string `json:"assigned_user_id,omitempty"`
	RequestID      string `json:"requestId"`
}

func newWebhookResponse(res *services.Result, requestID string) WebhookResponse {
	return WebhookResponse{
		Success:        true,
		Action:         res.Action,
		MessageID:      res.MessageID,
		WorkspaceID:    res.WorkspaceID,
		ConversationID: res.ConversationID,
		ContactID:      res.ContactID,
		ConnectionID:   res.ConnectionID,
		Instance:       res.Instance,
		PhoneNumber:    res.PhoneNumber,
		AssignedUserID: res.AssignedUserID,
		RequestID:      requestID,
	}
}

// fail aborts the request with the failure envelope. Server errors (>=500)
// are logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string, details map[string]string) {
	resp := ErrorResponse{
		Error:     code,
		Message:   msg,
		Details:   details,
		RequestID: middleware.RequestIDFrom(c),
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg, nil) }

// failErr maps a service error onto the failure taxonomy: decode and
// validation problems are 400, everything else is a store failure (500) that
// the caller may retry.
func failErr(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "payload failed validation", verr.Fields)
	case errors.Is(err, services.ErrInvalidPayload):
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "request body is not valid JSON", nil)
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeStoreFailed, "processing failed", map[string]string{"cause": err.Error()})
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
