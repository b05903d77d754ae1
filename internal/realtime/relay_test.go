package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNegotiatePassesOfferThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("model") != "test-model" || q.Get("voice") != "ash" {
			t.Errorf("query = %v", q)
		}
		if q.Get("instructions") != "be brief" {
			t.Errorf("instructions = %q", q.Get("instructions"))
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/sdp" {
			t.Errorf("content type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "v=0 offer" {
			t.Errorf("offer = %q", body)
		}
		fmt.Fprint(w, "v=0 answer")
	}))
	defer upstream.Close()

	relay := NewRelay(RelayConfig{
		APIKey:       "sk-test",
		BaseURL:      upstream.URL,
		Model:        "test-model",
		Voice:        "ash",
		Instructions: "be brief",
	})

	answer, err := relay.Negotiate(context.Background(), "v=0 offer")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if answer != "v=0 answer" {
		t.Fatalf("answer = %q", answer)
	}
}

func TestNegotiateUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer upstream.Close()

	relay := NewRelay(RelayConfig{APIKey: "bad", BaseURL: upstream.URL})
	_, err := relay.Negotiate(context.Background(), "v=0 offer")
	if err == nil {
		t.Fatal("expected error on 401")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want the upstream status", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("x", 600)
	if got := truncate(long, 512); len(got) != 515 || !strings.HasSuffix(got, "...") {
		t.Fatalf("got %d bytes", len(got))
	}
}
