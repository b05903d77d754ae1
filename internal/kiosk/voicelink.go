package kiosk

import (
	"context"
	"encoding/json"
	"sync"
)

type EventType string

const (
	EventFunctionCall EventType = "function_call"
	EventError        EventType = "error"
	EventClosed       EventType = "closed"
)

// FunctionCall is a completed tool invocation from the voice agent.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// Event is one occurrence on the realtime voice link.
type Event struct {
	Type   EventType
	Call   *FunctionCall
	Code   string
	Detail string
}

// Link is an open realtime voice connection. Events ends when the link
// closes; Close is idempotent.
type Link interface {
	Events() <-chan Event
	SendFunctionOutput(ctx context.Context, callID string, output any) error
	SendFunctionError(ctx context.Context, callID, message string) error
	Close() error
}

// Connector establishes one voice link per kiosk session.
type Connector interface {
	Connect(ctx context.Context) (Link, error)
}

// MockLink is a scriptable voice link for tests and the booth simulator.
type MockLink struct {
	mu      sync.Mutex
	events  chan Event
	closed  bool
	Outputs []MockReply
}

// MockReply records what the controller sent back over the link.
type MockReply struct {
	CallID string
	Output string
	IsErr  bool
}

func NewMockLink() *MockLink {
	return &MockLink{events: make(chan Event, 16)}
}

// Invoke delivers a generateImage call as if the agent had spoken it.
func (l *MockLink) Invoke(callID, prompt string) {
	args, _ := json.Marshal(map[string]any{"prompt": prompt})
	l.events <- Event{
		Type: EventFunctionCall,
		Call: &FunctionCall{CallID: callID, Name: "generateImage", Arguments: args},
	}
}

// InvokeRaw delivers an arbitrary tool call.
func (l *MockLink) InvokeRaw(callID, name string, args json.RawMessage) {
	l.events <- Event{
		Type: EventFunctionCall,
		Call: &FunctionCall{CallID: callID, Name: name, Arguments: args},
	}
}

func (l *MockLink) Events() <-chan Event {
	return l.events
}

func (l *MockLink) SendFunctionOutput(_ context.Context, callID string, output any) error {
	payload, err := json.Marshal(output)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Outputs = append(l.Outputs, MockReply{CallID: callID, Output: string(payload)})
	return nil
}

func (l *MockLink) SendFunctionError(_ context.Context, callID, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Outputs = append(l.Outputs, MockReply{CallID: callID, Output: message, IsErr: true})
	return nil
}

// Replies returns everything sent back over the link so far.
func (l *MockLink) Replies() []MockReply {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MockReply, len(l.Outputs))
	copy(out, l.Outputs)
	return out
}

func (l *MockLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.events)
	return nil
}

func (l *MockLink) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// MockConnector hands out pre-built links in order.
type MockConnector struct {
	mu    sync.Mutex
	links []*MockLink
	next  int
	// ConnectErr, when set, fails every Connect call.
	ConnectErr error
}

func NewMockConnector(links ...*MockLink) *MockConnector {
	return &MockConnector{links: links}
}

func (c *MockConnector) Connect(_ context.Context) (Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}
	if c.next >= len(c.links) {
		l := NewMockLink()
		c.links = append(c.links, l)
	}
	l := c.links[c.next]
	c.next++
	return l, nil
}

// Connections reports how many links were handed out.
func (c *MockConnector) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Link returns the i-th handed-out link, or nil.
func (c *MockConnector) Link(i int) *MockLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.links) {
		return nil
	}
	return c.links[i]
}
