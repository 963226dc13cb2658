package gemlive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/gemlive-go/events"
	"github.com/codewandler/gemlive-go/internal/emitter"
	"github.com/codewandler/gemlive-go/internal/websocket"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// State is the session connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	AwaitingSetupComplete
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingSetupComplete:
		return "awaiting_setup_complete"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CloseEvent carries the transport close code and reason.
type CloseEvent struct {
	Code   int
	Reason string
}

// ToolCallBatch is one inbound batch of function calls. ID is client-assigned
// and correlates the batch with its single combined response.
type ToolCallBatch struct {
	ID    string
	Calls []events.FunctionCall
}

// ToolResponseBatch answers every call of one ToolCallBatch together.
type ToolResponseBatch struct {
	BatchID   string
	Responses []events.FunctionResponse
}

// Client is the session protocol client. One websocket session at a time:
// Connect opens the transport and performs the Setup handshake, Disconnect
// tears everything down. A Client is reusable across connections, but a
// session itself never is.
type Client struct {
	config *clientConfig
	logger *slog.Logger

	mu                 sync.Mutex
	state              State
	ws                 *websocket.Client
	closeOnce          *sync.Once
	pendingToolBatches map[string][]string

	openEv          emitter.Emitter[struct{}]
	closeEv         emitter.Emitter[CloseEvent]
	errorEv         emitter.Emitter[error]
	setupCompleteEv emitter.Emitter[struct{}]
	audioEv         emitter.Emitter[events.Blob]
	contentEv       emitter.Emitter[[]events.Part]
	toolCallEv      emitter.Emitter[ToolCallBatch]
	toolCancelEv    emitter.Emitter[[]string]
	turnCompleteEv  emitter.Emitter[struct{}]
	interruptedEv   emitter.Emitter[struct{}]
}

func New(opts ...ClientOption) *Client {
	config := &clientConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)

	return &Client{
		config:             config,
		logger:             config.logger,
		pendingToolBatches: make(map[string][]string),
	}
}

// Event subscriptions. Each returns an unsubscribe handle.

func (c *Client) OnOpen(fn func()) func() {
	return c.openEv.Subscribe(func(struct{}) { fn() })
}

func (c *Client) OnClose(fn func(code int, reason string)) func() {
	return c.closeEv.Subscribe(func(e CloseEvent) { fn(e.Code, e.Reason) })
}

func (c *Client) OnError(fn func(err error)) func() {
	return c.errorEv.Subscribe(fn)
}

func (c *Client) OnSetupComplete(fn func()) func() {
	return c.setupCompleteEv.Subscribe(func(struct{}) { fn() })
}

// OnAudio fires once per inbound audio blob, in arrival order.
func (c *Client) OnAudio(fn func(chunk events.Blob)) func() {
	return c.audioEv.Subscribe(fn)
}

func (c *Client) OnContent(fn func(parts []events.Part)) func() {
	return c.contentEv.Subscribe(fn)
}

func (c *Client) OnToolCall(fn func(batch ToolCallBatch)) func() {
	return c.toolCallEv.Subscribe(fn)
}

func (c *Client) OnToolCallCancellation(fn func(ids []string)) func() {
	return c.toolCancelEv.Subscribe(fn)
}

func (c *Client) OnTurnComplete(fn func()) func() {
	return c.turnCompleteEv.Subscribe(func(struct{}) { fn() })
}

func (c *Client) OnInterrupted(fn func()) func() {
	return c.interruptedEv.Subscribe(func(struct{}) { fn() })
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether realtime input would currently be transmitted.
func (c *Client) Connected() bool {
	return c.State() == Connected
}

// Connect opens the transport and sends the Setup envelope. It fails fast
// with a ConnectionError when a session is already connecting or connected.
// The session becomes Connected once SetupComplete is observed; subscribe via
// OnSetupComplete to learn about it.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.config.validate(); err != nil {
		return &ConnectionError{Reason: "invalid config", Err: err}
	}

	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return &ConnectionError{Reason: fmt.Sprintf("already %s", state)}
	}
	c.state = Connecting
	c.closeOnce = &sync.Once{}
	c.mu.Unlock()

	url := fmt.Sprintf("%s?key=%s", c.config.endpoint, c.config.apiKey)

	ws, err := websocket.Connect(ctx, websocket.ClientConfig{
		Logger:      slog.New(slog.DiscardHandler),
		URL:         url,
		DialTimeout: c.config.dialTimeout(),
		OnText:      c.handleFrame,
		OnError: func(err error) {
			c.errorEv.Emit(err)
		},
		OnClose: func(code int, reason string) {
			c.transitionClosed(code, reason)
		},
	})
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		connErr := &ConnectionError{Reason: "transport open failed", Err: err}
		c.errorEv.Emit(connErr)
		return connErr
	}

	if err := c.attach(ws); err != nil {
		return err
	}

	c.openEv.Emit(struct{}{})

	// Setup is the first outbound message on every connection.
	setup := &events.Setup{
		Model: c.config.model,
		GenerationConfig: &events.GenerationConfig{
			ResponseModalities: []string{c.config.modality},
		},
	}
	if c.config.instruction != "" {
		setup.SystemInstruction = &events.Content{
			Parts: []events.Part{events.Text(c.config.instruction)},
		}
	}
	if len(c.config.tools) > 0 {
		decls := make([]any, 0, len(c.config.tools))
		for _, t := range c.config.tools {
			decls = append(decls, t)
		}
		setup.Tools = []events.ToolDeclarations{{FunctionDeclarations: decls}}
	}

	if err := c.writeEnvelope(ws, events.ClientEnvelope{Setup: setup}); err != nil {
		c.Disconnect()
		return &ConnectionError{Reason: "setup send failed", Err: err}
	}

	return nil
}

// attach installs the freshly dialed transport. The transport's read loop is
// live before Connect reacquires the lock, so a server that closes right
// after the upgrade can drive transitionClosed first; in that case the
// session is already Disconnected and the dead transport must not be
// installed over it.
func (c *Client) attach(ws *websocket.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connecting {
		return &ConnectionError{Reason: "transport closed during connect"}
	}
	c.ws = ws
	c.state = AwaitingSetupComplete
	return nil
}

// Disconnect closes the transport if open, abandons any tool calls still
// awaiting replies and transitions to Disconnected. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ws.Close(ctx)
	}

	c.transitionClosed(0, "disconnect")
}

// transitionClosed is the single funnel to the Disconnected state; both
// Disconnect and transport-driven closes end up here. The close event fires
// at most once per session.
func (c *Client) transitionClosed(code int, reason string) {
	c.mu.Lock()
	if c.state == Disconnected && c.ws == nil {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = Disconnected
	c.pendingToolBatches = make(map[string][]string)
	once := c.closeOnce
	c.mu.Unlock()

	if once != nil {
		once.Do(func() {
			c.closeEv.Emit(CloseEvent{Code: code, Reason: reason})
		})
	}
}

// SendRealtimeInput streams media chunks. It deliberately degrades to a no-op
// while not Connected: the capture engines fire continuously and must not
// need to check connection state before every chunk.
func (c *Client) SendRealtimeInput(chunks ...events.MediaChunk) {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected || len(chunks) == 0 {
		return
	}

	err := c.writeEnvelope(ws, events.ClientEnvelope{
		RealtimeInput: &events.RealtimeInput{MediaChunks: chunks},
	})
	if err != nil {
		c.logger.Error("realtime input send failed", slog.Any("err", err))
	}
}

// Send transmits user content marking end-of-turn.
func (c *Client) Send(parts ...events.Part) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected {
		return &NotConnectedError{Op: "send"}
	}

	return c.writeEnvelope(ws, events.ClientEnvelope{
		ClientContent: &events.ClientContent{
			Turns:        []events.Content{{Role: "user", Parts: parts}},
			TurnComplete: true,
		},
	})
}

// SendToolResponse answers a tool-call batch with one combined message.
// Unlike SendRealtimeInput this fails loudly when not Connected, since an
// upstream batch would otherwise be left unanswered silently.
func (c *Client) SendToolResponse(batch ToolResponseBatch) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected {
		return &NotConnectedError{Op: "sendToolResponse"}
	}

	err := c.writeEnvelope(ws, events.ClientEnvelope{
		ToolResponse: &events.ToolResponse{FunctionResponses: batch.Responses},
	})
	if err != nil {
		return err
	}

	// The batch counts as answered only once the envelope is actually out.
	if batch.BatchID != "" {
		c.mu.Lock()
		delete(c.pendingToolBatches, batch.BatchID)
		c.mu.Unlock()
	}
	return nil
}

// PendingToolCalls reports the call ids still awaiting a reply, keyed by
// batch id.
func (c *Client) PendingToolCalls() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]string, len(c.pendingToolBatches))
	for k, v := range c.pendingToolBatches {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (c *Client) writeEnvelope(ws *websocket.Client, env events.ClientEnvelope) error {
	if ws == nil {
		return &NotConnectedError{Op: "write"}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ws.WriteText(data)
	return nil
}

func (c *Client) handleFrame(data []byte) error {
	env, err := events.Parse[events.ServerEnvelope](data)
	if err != nil {
		perr := &ProtocolError{Detail: "malformed inbound envelope", Err: err}
		c.logger.Error("dropping frame", slog.Any("err", perr))
		return nil
	}

	switch {
	case env.SetupComplete != nil:
		c.handleSetupComplete()

	case env.ServerContent != nil:
		c.handleServerContent(env.ServerContent)

	case env.ToolCall != nil:
		c.handleToolCall(env.ToolCall)

	case env.ToolCallCancellation != nil:
		c.handleToolCancellation(env.ToolCallCancellation)

	default:
		perr := &ProtocolError{Detail: "unrecognized inbound envelope"}
		c.logger.Warn("dropping frame", slog.Any("err", perr), slog.Int("len", len(data)))
	}

	return nil
}

func (c *Client) handleSetupComplete() {
	c.mu.Lock()
	if c.state != AwaitingSetupComplete {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn("unexpected setupComplete", slog.String("state", state.String()))
		return
	}
	c.state = Connected
	c.mu.Unlock()

	c.setupCompleteEv.Emit(struct{}{})
}

func (c *Client) handleServerContent(sc *events.ServerContent) {
	// Interruption first, so playback is flushed before anything newer.
	if sc.Interrupted {
		c.interruptedEv.Emit(struct{}{})
	}

	for _, blob := range sc.AudioChunks() {
		c.audioEv.Emit(blob)
	}

	if sc.ModelTurn != nil && len(sc.ModelTurn.Parts) > 0 {
		c.contentEv.Emit(sc.ModelTurn.Parts)
	}

	if sc.TurnComplete {
		c.turnCompleteEv.Emit(struct{}{})
	}
}

func (c *Client) handleToolCall(tc *events.ToolCall) {
	if len(tc.FunctionCalls) == 0 {
		return
	}

	batchID, _ := nanoid.New()
	ids := make([]string, 0, len(tc.FunctionCalls))
	for _, call := range tc.FunctionCalls {
		ids = append(ids, call.ID)
	}

	c.mu.Lock()
	c.pendingToolBatches[batchID] = ids
	c.mu.Unlock()

	c.toolCallEv.Emit(ToolCallBatch{ID: batchID, Calls: tc.FunctionCalls})
}

func (c *Client) handleToolCancellation(tcc *events.ToolCallCancellation) {
	if len(tcc.IDs) == 0 {
		return
	}

	cancelled := make(map[string]bool, len(tcc.IDs))
	for _, id := range tcc.IDs {
		cancelled[id] = true
	}

	c.mu.Lock()
	for batchID, ids := range c.pendingToolBatches {
		kept := ids[:0]
		for _, id := range ids {
			if !cancelled[id] {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(c.pendingToolBatches, batchID)
		} else {
			c.pendingToolBatches[batchID] = kept
		}
	}
	c.mu.Unlock()

	c.toolCancelEv.Emit(tcc.IDs)
}
