// Package events defines the wire envelopes exchanged with the live API.
//
// Every websocket text frame carries exactly one JSON object. The envelope is
// a tagged union expressed through field presence: exactly one of the struct
// pointers is non-nil.
package events

import (
	"encoding/json"
	"time"
)

// ClientEnvelope is the outbound wire unit.
type ClientEnvelope struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

// ServerEnvelope is the inbound wire unit.
type ServerEnvelope struct {
	SetupComplete        *SetupComplete        `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
}

// Setup is the first outbound message of every connection. No other outbound
// traffic is permitted before SetupComplete has been observed.
type Setup struct {
	Model             string             `json:"model"`
	GenerationConfig  *GenerationConfig  `json:"generationConfig,omitempty"`
	SystemInstruction *Content           `json:"systemInstruction,omitempty"`
	Tools             []ToolDeclarations `json:"tools,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// ToolDeclarations groups the function schemas announced in Setup. The
// declarations are kept loosely typed here so callers can pass the schema
// structs of the tool package without this package depending on it.
type ToolDeclarations struct {
	FunctionDeclarations []any `json:"functionDeclarations,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob is base64-encoded inline media.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// MediaChunk is one streamed realtime media slice. Audio chunks are 16-bit
// mono PCM at 16 kHz, video chunks are JPEG. CapturedAt is observational
// client-side metadata and never leaves the process.
type MediaChunk struct {
	MIMEType   string    `json:"mimeType"`
	Data       string    `json:"data"`
	CapturedAt time.Time `json:"-"`
}

// RealtimeInput carries turn-agnostic media chunks; it does not end the
// current conversational turn.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
}

// ClientContent marks end-of-turn user input.
type ClientContent struct {
	Turns        []Content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete"`
}

type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

type SetupComplete struct{}

type ServerContent struct {
	ModelTurn    *Content `json:"modelTurn,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
	Interrupted  bool     `json:"interrupted,omitempty"`
}

// ToolCall is a batch of function invocations. Every call in the batch is
// answered exactly once, together, in one ToolResponse.
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

// Text returns a text-only user part.
func Text(s string) Part {
	return Part{Text: s}
}

// AudioChunks extracts the inline audio blobs of a model turn, in order.
func (c *ServerContent) AudioChunks() []Blob {
	if c == nil || c.ModelTurn == nil {
		return nil
	}
	var out []Blob
	for _, p := range c.ModelTurn.Parts {
		if p.InlineData != nil {
			out = append(out, *p.InlineData)
		}
	}
	return out
}

// TextParts extracts the text parts of a model turn, in order.
func (c *ServerContent) TextParts() []string {
	if c == nil || c.ModelTurn == nil {
		return nil
	}
	var out []string
	for _, p := range c.ModelTurn.Parts {
		if p.Text != "" {
			out = append(out, p.Text)
		}
	}
	return out
}

func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}
