package handlers

import (
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-payments-backend/internal/http/middleware"
	"github.com/tbourn/go-payments-backend/internal/services"
)

// maxCallbackBytes bounds a callback body; real ones are well under 4 KiB.
const maxCallbackBytes = 64 << 10

// CallbackAck is the acknowledgement shape the provider expects.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode" example:"0"`
	ResultDesc string `json:"ResultDesc" example:"Success"`
}

// MpesaCallback godoc
// @ID          mpesaCallback
// @Summary     Receive an M-Pesa STK callback
// @Description Always answers 200 with {ResultCode, ResultDesc}. ResultCode 0 means the callback
// @Description was persisted (or had already been processed) and must not be retried.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       body  body  object  true  "Raw provider callback"
//
// @Success     200  {object}  handlers.CallbackAck
// @Failure     403  {object}  handlers.CallbackAck "Source IP not allowed"
// @Router      /webhooks/mpesa/callback [post]
func (h *Handlers) MpesaCallback(c *gin.Context) {
	lg := middleware.LoggerFrom(c)
	defer func() {
		if rec := recover(); rec != nil {
			lg.Error().Interface("panic", rec).Msg("callback handler panicked")
			ack(c, 1, "Processing failed")
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		ack(c, 1, "Processing failed")
		return
	}

	res, err := h.callbacks.HandleCallback(c.Request.Context(), raw, callbackHeaders(c))
	switch {
	case errors.Is(err, services.ErrInvalidJSON):
		lg.Warn().Err(err).Msg("callback body is not JSON")
		ack(c, 1, "Invalid JSON")
		return
	case err != nil:
		lg.Error().Err(err).Msg("callback processing failed")
		ack(c, 1, "Processing failed")
		return
	}
	ack(c, res.ResultCode(), res.ResultDesc())
}

// callbackHeaders flattens request headers for the ledger, adding the source
// address the allow-list saw.
func callbackHeaders(c *gin.Context) map[string]string {
	out := make(map[string]string, len(c.Request.Header)+1)
	for k, vv := range c.Request.Header {
		out[k] = strings.Join(vv, ", ")
	}
	if ip := middleware.SourceIP(c); ip != "" {
		out["X-Source-IP"] = ip
	}
	return out
}
