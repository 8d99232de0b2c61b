package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newChatHTTP(t *testing.T, svc *Service) http.Handler {
	t.Helper()

	h := NewHTTPHandler(testLogger(), svc)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func doChatJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPSendMessageAndHistory(t *testing.T) {
	t.Parallel()

	svc := NewService(testLogger(), NewInMemoryStore(), nil)
	h := newChatHTTP(t, svc)

	for i, text := range []string{"hey", "how is training", "see you at 6"} {
		body := fmt.Sprintf(`{"sender_id":"alice","recipient_id":"bob","gym":"Iron Temple","text":%q}`, text)
		rec := doChatJSON(t, h, http.MethodPost, "/api/chats/messages", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("send %d: status %d body=%s", i, rec.Code, rec.Body.String())
		}
	}

	rec := doChatJSON(t, h, http.MethodGet, "/api/chats/history?user_a=bob&user_b=alice&gym=Iron+Temple", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history: status %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Messages []struct {
			Sender    string    `json:"sender"`
			Text      string    `json:"text"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(resp.Messages) != 3 {
		t.Fatalf("messages: got %d want 3", len(resp.Messages))
	}
	// Chronological, oldest first.
	want := []string{"hey", "how is training", "see you at 6"}
	for i, m := range resp.Messages {
		if m.Text != want[i] {
			t.Fatalf("messages[%d]: got %q want %q", i, m.Text, want[i])
		}
		if m.Sender != "alice" {
			t.Fatalf("messages[%d] sender: %q", i, m.Sender)
		}
		if m.Timestamp.IsZero() {
			t.Fatalf("messages[%d]: timestamp not stamped", i)
		}
	}
}

func TestHTTPSendMessage_ValidationRejected(t *testing.T) {
	t.Parallel()

	svc := NewService(testLogger(), NewInMemoryStore(), nil)
	h := newChatHTTP(t, svc)

	cases := []struct {
		name string
		body string
	}{
		{"self chat", `{"sender_id":"alice","recipient_id":"alice","gym":"Iron Temple","text":"hi"}`},
		{"blank text", `{"sender_id":"alice","recipient_id":"bob","gym":"Iron Temple","text":"   "}`},
		{"missing gym", `{"sender_id":"alice","recipient_id":"bob","gym":"","text":"hi"}`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := doChatJSON(t, h, http.MethodPost, "/api/chats/messages", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d want 400, body=%s", rec.Code, rec.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Error.Code != "validation" {
				t.Fatalf("error code: %q", resp.Error.Code)
			}
		})
	}
}

func TestHTTPSendMessage_MalformedBody(t *testing.T) {
	t.Parallel()

	svc := NewService(testLogger(), NewInMemoryStore(), nil)
	h := newChatHTTP(t, svc)

	rec := doChatJSON(t, h, http.MethodPost, "/api/chats/messages", `{"sender_id":"a","unknown_field":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d want 400", rec.Code)
	}

	rec = doChatJSON(t, h, http.MethodPost, "/api/chats/messages", `{"sender_id":"a"}{"more":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("trailing data: status %d want 400", rec.Code)
	}
}

func TestHTTPPartners(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{names: map[string][2]string{
		"bob": {"Bob", "Builder"},
	}}
	svc := NewService(testLogger(), NewInMemoryStore(), resolver)
	h := newChatHTTP(t, svc)

	if _, err := svc.SendMessage(context.Background(), "owner-1", "bob", "Iron Temple", "hello"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doChatJSON(t, h, http.MethodGet, "/api/chats/partners?owner=owner-1&gym=Iron+Temple", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("partners: status %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Partners []Partner `json:"partners"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode partners: %v", err)
	}
	if len(resp.Partners) != 1 {
		t.Fatalf("partners: got %d want 1", len(resp.Partners))
	}
	p := resp.Partners[0]
	if p.UserID != "bob" || p.FirstName != "Bob" || p.LastName != "Builder" {
		t.Fatalf("partner: %+v", p)
	}
}

func TestHTTPPartners_EmptyStaysArray(t *testing.T) {
	t.Parallel()

	svc := NewService(testLogger(), NewInMemoryStore(), nil)
	h := newChatHTTP(t, svc)

	rec := doChatJSON(t, h, http.MethodGet, "/api/chats/partners?owner=nobody&gym=Iron+Temple", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"partners":[]`) {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestHTTPRenameScope(t *testing.T) {
	t.Parallel()

	svc := NewService(testLogger(), NewInMemoryStore(), nil)
	h := newChatHTTP(t, svc)

	if _, err := svc.SendMessage(context.Background(), "owner-1", "bob", "Old Name", "hello"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doChatJSON(t, h, http.MethodPost, "/api/chats/rename",
		`{"owner_id":"owner-1","old_gym":"Old Name","new_gym":"New Name"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("rename: status %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Updated int64 `json:"updated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Updated != 1 {
		t.Fatalf("updated: got %d want 1", resp.Updated)
	}

	msgs, err := svc.GetHistory(context.Background(), "owner-1", "bob", "New Name")
	if err != nil {
		t.Fatalf("history after rename: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("history lost after rename: %d", len(msgs))
	}
}
