package httpapi

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func envelope(data string) map[string]any {
	return map[string]any{
		"message": map[string]any{
			"data":      base64.StdEncoding.EncodeToString([]byte(data)),
			"messageId": "123",
		},
		"subscription": "projects/p/subscriptions/s",
	}
}

func TestWebhookDispatches(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/webhooks/gmail",
		envelope(`{"emailAddress":"alice@example.com","historyId":4242}`), false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	calls := env.dispatch.Calls()
	if len(calls) != 1 || calls[0].Tenant != testTenant || calls[0].Hint != 4242 {
		t.Errorf("dispatch calls = %+v", calls)
	}
}

func TestWebhookAcceptsStringHistoryID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/webhooks/gmail",
		envelope(`{"emailAddress":"alice@example.com","historyId":"77"}`), false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	calls := env.dispatch.Calls()
	if len(calls) != 1 || calls[0].Hint != 77 {
		t.Errorf("dispatch calls = %+v", calls)
	}
}

func TestWebhookRejectsMalformedEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "not json", body: "{{{"},
		{name: "data not base64", body: map[string]any{
			"message": map[string]any{"data": "!!not-base64!!"},
		}},
		{name: "payload not json", body: envelope("not json")},
		{name: "missing email", body: envelope(`{"historyId":1}`)},
		{name: "missing history id", body: envelope(`{"emailAddress":"a@b.c"}`)},
		{name: "null history id", body: envelope(`{"emailAddress":"a@b.c","historyId":null}`)},
		{name: "empty history id", body: envelope(`{"emailAddress":"a@b.c","historyId":""}`)},
		{name: "bad history id", body: envelope(`{"emailAddress":"a@b.c","historyId":"abc"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			var w *httptest.ResponseRecorder
			if s, ok := tt.body.(string); ok {
				req := httptest.NewRequest(http.MethodPost, "/webhooks/gmail", strings.NewReader(s))
				w = httptest.NewRecorder()
				env.server.Router().ServeHTTP(w, req)
			} else {
				w = env.do(t, http.MethodPost, "/webhooks/gmail", tt.body, false)
			}
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if calls := env.dispatch.Calls(); len(calls) != 0 {
				t.Errorf("malformed envelope dispatched: %+v", calls)
			}
		})
	}
}
