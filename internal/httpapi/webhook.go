package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joshsymonds/autosort/internal/gmail"
)

// pubsubEnvelope is the push payload Cloud Pub/Sub delivers: the
// message data is base64 JSON `{"emailAddress":..., "historyId":...}`.
type pubsubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type changeNotification struct {
	EmailAddress string          `json:"emailAddress"`
	HistoryID    json.RawMessage `json:"historyId"`
}

// handleWebhook acknowledges the notification as soon as it parses and
// hands the work to the dispatcher. A malformed envelope is rejected
// with 400 so Pub/Sub stops redelivering it; anything downstream of the
// parse must not affect the response.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var env pubsubEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed envelope")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "payload is not base64")
		return
	}
	var note changeNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed notification")
		return
	}
	if note.EmailAddress == "" {
		s.respondError(w, http.StatusBadRequest, "missing emailAddress")
		return
	}
	hint, err := parseHistoryHint(note.HistoryID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing or malformed historyId")
		return
	}

	s.Dispatch.Notify(note.EmailAddress, hint)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// parseHistoryHint accepts the number-or-string forms the push channel
// uses for historyId. The field is required: a notification with no
// position is rejected so the sender stops redelivering it. Catch-up
// without a hint goes through the internal nudge, which talks to the
// dispatcher directly.
func parseHistoryHint(raw json.RawMessage) (gmail.HistoryID, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("historyId is required")
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return gmail.ParseHistoryID(asString)
	}
	var asNumber uint64
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return 0, err
	}
	return gmail.HistoryID(asNumber), nil
}
