// Webhook HTTP handler.
//
// This file exposes the single inbound endpoint of the gateway:
//   - POST /webhook   (provider events and automation create/update calls)
//
// The trust class resolved by middleware.Authenticate selects the processing
// path. The handler is transport-thin: it reads the raw body, delegates to
// the matching service and translates the result into the response envelope.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wa-inbound-gateway/internal/http/middleware"
	"github.com/tbourn/wa-inbound-gateway/internal/observability"
	"github.com/tbourn/wa-inbound-gateway/internal/services"
)

// Ingester runs the provider path. *services.IngestService implements it.
type Ingester interface {
	Ingest(ctx context.Context, body []byte, requestID string) (*services.Result, error)
}

// Automator runs the automation path. *services.AutomationService implements it.
type Automator interface {
	Handle(ctx context.Context, body []byte, requestID string) (*services.Result, error)
}

// Handlers groups the webhook endpoint and its collaborators.
type Handlers struct {
	ingest     Ingester
	automation Automator
}

// New constructs Handlers bound to the given services.
func New(ingest Ingester, automation Automator) *Handlers {
	return &Handlers{ingest: ingest, automation: automation}
}

// Webhook godoc
// @ID          postWebhook
// @Summary     Receive a provider event or an automation message call
// @Description Provider callers authenticate with X-Secret and send raw channel events.
// @Description Automation callers authenticate with a bearer token and send the normalized message schema.
// @Description A created message answers 201; every other success, duplicates and not-actionable events included, answers 200.
// @Tags        Webhook
// @Accept      json
// @Produce     json
//
// @Param       X-Secret       header  string  false  "Provider shared secret"
// @Param       Authorization  header  string  false  "Bearer token of the automation engine"
// @Param       X-Request-ID   header  string  false  "Correlation id (generated when absent)"
//
// @Success     200  {object}  handlers.WebhookResponse  "Processed, forwarded, updated or duplicate"
// @Success     201  {object}  handlers.WebhookResponse  "Message created"
// @Failure     400  {object}  handlers.ErrorResponse    "Malformed body or validation failure"
// @Failure     401  {object}  handlers.ErrorResponse    "Missing or invalid credentials"
// @Failure     405  {object}  handlers.ErrorResponse    "Method not allowed"
// @Failure     500  {object}  handlers.ErrorResponse    "Store failure"
// @Router      /webhook [post]
func (h *Handlers) Webhook(c *gin.Context) {
	ctx := c.Request.Context()
	rid := middleware.RequestIDFrom(c)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request body too large", nil)
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read request body", nil)
		return
	}
	if len(body) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request body required", nil)
		return
	}

	caller := middleware.CallerFrom(c)
	var res *services.Result
	switch caller {
	case middleware.CallerAutomation:
		res, err = h.automation.Handle(ctx, body, rid)
	default:
		caller = middleware.CallerProvider
		res, err = h.ingest.Ingest(ctx, body, rid)
	}
	if err != nil {
		observability.WebhookEvents.WithLabelValues(caller, "error").Inc()
		failErr(c, err)
		return
	}
	observability.WebhookEvents.WithLabelValues(caller, res.Action).Inc()

	status := http.StatusOK
	if res.Created() {
		status = http.StatusCreated
	}
	ok(c, status, newWebhookResponse(res, rid))
}
