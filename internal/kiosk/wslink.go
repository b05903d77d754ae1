package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rvillela/artbooth/internal/realtime"
)

// WSConnector opens the realtime voice link over the provider's websocket
// transport and pushes the booth session configuration once it is up.
type WSConnector struct {
	wsURL        string
	apiKey       string
	model        string
	voice        string
	instructions string
}

type WSConfig struct {
	WSURL        string
	APIKey       string
	Model        string
	Voice        string
	Instructions string
}

func NewWSConnector(cfg WSConfig) *WSConnector {
	return &WSConnector{
		wsURL:        cfg.WSURL,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		voice:        cfg.Voice,
		instructions: cfg.Instructions,
	}
}

func (c *WSConnector) Connect(ctx context.Context) (Link, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime ws url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, res, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("dial realtime ws (status %d): %w", res.StatusCode, err)
		}
		return nil, fmt.Errorf("dial realtime ws: %w", err)
	}

	link := &wsLink{
		conn:   conn,
		events: make(chan Event, 64),
	}

	update := realtime.NewBoothSessionUpdate(c.instructions, c.voice)
	if err := link.writeJSON(update); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session update: %w", err)
	}

	go link.readLoop()
	return link, nil
}

type wsLink struct {
	conn    *websocket.Conn
	events  chan Event
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (l *wsLink) readLoop() {
	defer func() {
		l.closeConn()
		close(l.events)
	}()

	l.conn.SetReadLimit(2 << 20)
	for {
		msgType, data, err := l.conn.ReadMessage()
		if err != nil {
			l.events <- Event{Type: EventClosed, Detail: err.Error()}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := realtime.ParseServerEvent(data)
		if err != nil {
			if !errors.Is(err, realtime.ErrUnsupportedType) {
				log.Printf("voicelink: skipping malformed event: %v", err)
			}
			continue
		}

		switch msg := parsed.(type) {
		case realtime.FunctionCallDone:
			l.events <- Event{
				Type: EventFunctionCall,
				Call: &FunctionCall{
					CallID:    msg.CallID,
					Name:      msg.Name,
					Arguments: json.RawMessage(msg.Arguments),
				},
			}
		case realtime.ErrorEvent:
			l.events <- Event{Type: EventError, Code: msg.Code, Detail: msg.Message}
		}
	}
}

func (l *wsLink) Events() <-chan Event {
	return l.events
}

func (l *wsLink) SendFunctionOutput(_ context.Context, callID string, output any) error {
	item, err := realtime.FunctionOutput(callID, output)
	if err != nil {
		return err
	}
	return l.writeJSON(item)
}

func (l *wsLink) SendFunctionError(_ context.Context, callID, message string) error {
	return l.writeJSON(realtime.FunctionError(callID, message))
}

func (l *wsLink) writeJSON(v any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return l.conn.WriteJSON(v)
}

func (l *wsLink) Close() error {
	return l.closeConn()
}

func (l *wsLink) closeConn() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.conn.Close()
}
