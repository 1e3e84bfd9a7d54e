package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pricesync/pricesync/internal/server/events"
	"github.com/pricesync/pricesync/internal/server/response"
	"github.com/pricesync/pricesync/internal/server/session"
	"github.com/pricesync/pricesync/pkg/constants"
)

const (
	topicAppDisconnect = "APP_DISCONNECT"
	maxWebhookBody     = 1 << 20
)

type webhookPayload struct {
	Data struct {
		WebHookEvent struct {
			Topic      string `json:"topic"`
			AccountID  string `json:"accountId"`
			ItemID     string `json:"itemId"`
			OccurredAt string `json:"occurredAt"`
		} `json:"webHookEvent"`
	} `json:"data"`
}

// HandleWebhook handles POST /webhooks/jobber. APP_DISCONNECT removes the
// account's credential; other topics are acknowledged and ignored. A
// redelivery of an already handled event is acknowledged without effect.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Unreadable body", err.Error())
		return
	}

	if !session.VerifyWebhook(body, r.Header.Get(constants.JobberWebhookSignatureHeader), h.webhookSecret) {
		log.Warn().Msg("webhook signature rejected")
		response.Unauthorized(w, "Invalid signature", "")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		response.BadRequest(w, "Invalid JSON", err.Error())
		return
	}

	event := payload.Data.WebHookEvent
	key := event.Topic + "|" + event.AccountID + "|" + event.ItemID + "|" + event.OccurredAt
	if h.webhooks.Has(key) {
		log.Debug().Str("topic", event.Topic).Str("account_id", event.AccountID).
			Int("remembered", h.webhooks.Len()).Msg("duplicate webhook ignored")
		response.Raw(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	log.Info().Str("topic", event.Topic).Str("account_id", event.AccountID).Msg("webhook received")

	if event.Topic == topicAppDisconnect && event.AccountID != "" {
		if err := h.store.Delete(r.Context(), event.AccountID); err != nil {
			log.Error().Err(err).Str("account_id", event.AccountID).Msg("delete credential")
			response.InternalError(w, err)
			return
		}
		h.events.Publish(events.AccountDisconnected, event.AccountID, Status{AccountID: event.AccountID})
	}
	h.webhooks.Mark(key)

	response.Raw(w, http.StatusOK, map[string]bool{"ok": true})
}
