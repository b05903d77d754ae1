package kiosk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rvillela/artbooth/internal/realtime"
)

func TestWSLinkSessionFlow(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotOutput := make(chan realtime.ConversationItemCreate, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("model"); got != "test-model" {
			t.Errorf("model = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// First message must be the session configuration.
		var update realtime.SessionUpdate
		if err := conn.ReadJSON(&update); err != nil {
			t.Errorf("read session update: %v", err)
			return
		}
		if update.Type != realtime.TypeSessionUpdate || len(update.Session.Tools) != 1 {
			t.Errorf("update = %+v", update)
		}

		// The agent asks for an image.
		call := map[string]any{
			"type":      string(realtime.TypeFunctionCallDone),
			"name":      "generateImage",
			"call_id":   "call-9",
			"arguments": `{"prompt":"a fox"}`,
		}
		if err := conn.WriteJSON(call); err != nil {
			t.Errorf("write call: %v", err)
			return
		}

		var item realtime.ConversationItemCreate
		if err := conn.ReadJSON(&item); err != nil {
			t.Errorf("read item: %v", err)
			return
		}
		gotOutput <- item
	}))
	defer srv.Close()

	connector := NewWSConnector(WSConfig{
		WSURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:       "sk-test",
		Model:        "test-model",
		Voice:        "ash",
		Instructions: "be an artist",
	})

	link, err := connector.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer link.Close()

	select {
	case ev := <-link.Events():
		if ev.Type != EventFunctionCall || ev.Call == nil {
			t.Fatalf("event = %+v", ev)
		}
		if ev.Call.CallID != "call-9" || ev.Call.Name != "generateImage" {
			t.Fatalf("call = %+v", ev.Call)
		}
		var args realtime.GenerateImageArgs
		if err := json.Unmarshal(ev.Call.Arguments, &args); err != nil || args.Prompt != "a fox" {
			t.Fatalf("arguments = %s (%v)", ev.Call.Arguments, err)
		}
		if err := link.SendFunctionOutput(context.Background(), ev.Call.CallID, map[string]any{
			"success":   true,
			"image_url": "http://relay/images/abc",
		}); err != nil {
			t.Fatalf("SendFunctionOutput: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no function call event")
	}

	select {
	case item := <-gotOutput:
		if item.Item.Type != realtime.ItemFunctionCallOutput || item.Item.CallID != "call-9" {
			t.Fatalf("item = %+v", item.Item)
		}
		if !strings.Contains(item.Item.Output, "image_url") {
			t.Fatalf("output = %q", item.Item.Output)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the function output")
	}
}

func TestWSLinkEmitsClosedEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var update realtime.SessionUpdate
		_ = conn.ReadJSON(&update)
		conn.Close()
	}))
	defer srv.Close()

	connector := NewWSConnector(WSConfig{
		WSURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Model: "test-model",
	})
	link, err := connector.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer link.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-link.Events():
			if !ok {
				t.Fatal("events channel closed without a closed event")
			}
			if ev.Type == EventClosed {
				return
			}
		case <-deadline:
			t.Fatal("no closed event")
		}
	}
}
