package wa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wagenda/pkg/logx"
)

func TestWindowClosedClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		err    APIError
		closed bool
	}{
		{name: "code 470", err: APIError{StatusCode: 400, Code: 470}, closed: true},
		{name: "subcode 2018041", err: APIError{StatusCode: 400, Code: 131047, Subcode: 2018041}, closed: true},
		{name: "subcode 2018042", err: APIError{StatusCode: 400, Subcode: 2018042}, closed: true},
		{name: "subcode 2018046", err: APIError{StatusCode: 400, Subcode: 2018046}, closed: true},
		{name: "plain 400", err: APIError{StatusCode: 400, Code: 100}, closed: false},
		{name: "server error", err: APIError{StatusCode: 500}, closed: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.WindowClosed(); got != tt.closed {
				t.Fatalf("WindowClosed = %v, want %v", got, tt.closed)
			}
			if tt.closed && tt.err.Retryable() {
				t.Fatal("window-closed error must not be retryable")
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  APIError
		want bool
	}{
		{err: APIError{StatusCode: 429}, want: true},
		{err: APIError{StatusCode: 500}, want: true},
		{err: APIError{StatusCode: 503}, want: true},
		{err: APIError{StatusCode: 400, Code: 100}, want: false},
		{err: APIError{StatusCode: 401}, want: false},
		{err: APIError{StatusCode: 500, Code: 470}, want: false},
	}
	for _, tt := range tests {
		if got := tt.err.Retryable(); got != tt.want {
			t.Fatalf("Retryable(%+v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsWindowClosedUnwraps(t *testing.T) {
	t.Parallel()
	base := &APIError{StatusCode: 400, Code: 470}
	wrapped := fmt.Errorf("send: %w", base)
	if !IsWindowClosed(wrapped) {
		t.Fatal("wrapped window-closed error not detected")
	}
	if IsWindowClosed(errors.New("plain")) {
		t.Fatal("plain error misclassified")
	}
}

func TestParseAPIError(t *testing.T) {
	t.Parallel()
	body := []byte(`{"error": {"message": "Re-engagement message", "code": 131047, "error_subcode": 2018046}}`)
	e := parseAPIError(400, body)
	if e.Code != 131047 || e.Subcode != 2018046 || e.Message != "Re-engagement message" {
		t.Fatalf("parsed = %+v", e)
	}
	if !e.WindowClosed() {
		t.Fatal("subcode not classified as window-closed")
	}

	// Non-JSON bodies keep the raw text as the message.
	e = parseAPIError(502, []byte("bad gateway"))
	if e.Message != "bad gateway" || e.Code != 0 {
		t.Fatalf("parsed = %+v", e)
	}
}

func TestPrivateChatLink(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{in: "628999", want: "https://wa.me/628999"},
		{in: "+628999", want: "https://wa.me/628999"},
		{in: " 628999 ", want: "https://wa.me/628999"},
	}
	for _, tt := range tests {
		if got := PrivateChatLink(tt.in); got != tt.want {
			t.Fatalf("PrivateChatLink(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecipientType(t *testing.T) {
	t.Parallel()
	if got := recipientType("123456@g.us"); got != "group" {
		t.Fatalf("group jid = %q", got)
	}
	if got := recipientType("628999"); got != "individual" {
		t.Fatalf("individual id = %q", got)
	}
}

func TestSendTextAgainstFakeAPI(t *testing.T) {
	t.Parallel()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/v19.0/1099999/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.sent"}},
		})
	}))
	defer srv.Close()

	c, err := New(Config{
		BaseURL:       srv.URL,
		PhoneNumberID: "1099999",
		AccessToken:   "token-123",
		Timeout:       2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := c.SendText(context.Background(), "123@g.us", "hello group")
	if err != nil {
		t.Fatalf("SendText error: %v", err)
	}
	if res.MessageID != "wamid.sent" {
		t.Fatalf("MessageID = %q", res.MessageID)
	}
	if captured["to"] != "123@g.us" || captured["recipient_type"] != "group" {
		t.Fatalf("payload = %v", captured)
	}
}

func TestSendSurfacesAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "window closed", "code": 470}}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		BaseURL:       srv.URL,
		PhoneNumberID: "1099999",
		AccessToken:   "token-123",
		Timeout:       2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	_, err = c.SendText(context.Background(), "628999", "hi")
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if !ae.WindowClosed() {
		t.Fatalf("error not window-closed: %+v", ae)
	}
}
