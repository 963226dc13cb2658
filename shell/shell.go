// Package shell is the boundary to the Host Shell: the external UI/OS layer
// that owns overlays, simulated input, window management and media-source
// pickers. The core talks to it over a typed, bidirectional message channel
// with named topics; the few operations that need a result use explicit
// request/response pairing.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	nanoid "github.com/matoous/go-nanoid/v2"
)

type Topic string

const (
	TopicOverlayText        Topic = "overlay.text"
	TopicInjectText         Topic = "input.inject_text"
	TopicReadSelection      Topic = "input.read_selection"
	TopicListWindows        Topic = "windows.list"
	TopicFocusWindow        Topic = "windows.focus"
	TopicRequestMediaSource Topic = "media.request_source"
	TopicStateChanged       Topic = "state.changed"
)

// Message is the wire unit of the shell channel. Notifications carry no ID;
// requests carry an ID that the reply echoes in ReplyTo.
type Message struct {
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Topic   Topic           `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HandlerFunc serves one topic. The returned value is marshalled into the
// reply payload when the inbound message was a request.
type HandlerFunc func(payload json.RawMessage) (any, error)

// Conn is one end of a shell channel.
type Conn struct {
	logger *slog.Logger
	out    chan<- Message
	in     <-chan Message

	mu       sync.Mutex
	pending  map[string]chan Message
	handlers map[Topic]HandlerFunc
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

// Pipe returns two connected channel ends. One side stays in the core
// process; a desktop host bridges the other onto whatever IPC it uses.
func Pipe() (*Conn, *Conn) {
	ab := make(chan Message, 64)
	ba := make(chan Message, 64)

	a := newConn(ab, ba)
	b := newConn(ba, ab)
	return a, b
}

func newConn(out chan<- Message, in <-chan Message) *Conn {
	c := &Conn{
		logger:   slog.New(slog.DiscardHandler),
		out:      out,
		in:       in,
		pending:  make(map[string]chan Message),
		handlers: make(map[Topic]HandlerFunc),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// Handle registers the handler for a topic. Registration happens at
// configuration time, before traffic flows.
func (c *Conn) Handle(topic Topic, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = fn
}

// Notify sends a fire-and-forget message.
func (c *Conn) Notify(topic Topic, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return c.send(Message{Topic: topic, Payload: data})
}

// Request sends a message and waits for the correlated reply.
func (c *Conn) Request(ctx context.Context, topic Topic, payload any) (json.RawMessage, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	id, err := nanoid.New()
	if err != nil {
		return nil, err
	}

	reply := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("shell channel closed")
	}
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(Message{ID: id, Topic: topic, Payload: data}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("shell channel closed")
	case msg := <-reply:
		if msg.Error != "" {
			return nil, fmt.Errorf("%s: %s", topic, msg.Error)
		}
		return msg.Payload, nil
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Conn) send(msg Message) error {
	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return fmt.Errorf("shell channel closed")
	}
}

func (c *Conn) readLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.in:
			c.dispatch(msg)
		}
	}
}

func (c *Conn) dispatch(msg Message) {
	if msg.ReplyTo != "" {
		c.mu.Lock()
		reply := c.pending[msg.ReplyTo]
		c.mu.Unlock()
		if reply != nil {
			reply <- msg
		}
		return
	}

	c.mu.Lock()
	fn := c.handlers[msg.Topic]
	c.mu.Unlock()

	if fn == nil {
		c.logger.Warn("no shell handler", slog.String("topic", string(msg.Topic)))
		if msg.ID != "" {
			_ = c.send(Message{ReplyTo: msg.ID, Topic: msg.Topic, Error: "unsupported topic"})
		}
		return
	}

	result, err := fn(msg.Payload)

	// Notifications get no reply.
	if msg.ID == "" {
		if err != nil {
			c.logger.Error("shell handler failed", slog.String("topic", string(msg.Topic)), slog.Any("err", err))
		}
		return
	}

	if err != nil {
		_ = c.send(Message{ReplyTo: msg.ID, Topic: msg.Topic, Error: err.Error()})
		return
	}

	data, err := marshalPayload(result)
	if err != nil {
		_ = c.send(Message{ReplyTo: msg.ID, Topic: msg.Topic, Error: err.Error()})
		return
	}
	_ = c.send(Message{ReplyTo: msg.ID, Topic: msg.Topic, Payload: data})
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
