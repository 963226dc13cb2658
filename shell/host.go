package shell

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrCancelled is returned when the user dismissed the media source picker.
var ErrCancelled = errors.New("media source request cancelled")

type WindowDescriptor struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// StateSnapshot mirrors the core's user-visible flags so satellite UI
// surfaces can follow without polling.
type StateSnapshot struct {
	Muted         bool `json:"muted"`
	ScreenSharing bool `json:"screenSharing"`
	WebcamOn      bool `json:"webcamOn"`
	Connected     bool `json:"connected"`
}

type SourceKind string

const (
	SourceWebcam SourceKind = "webcam"
	SourceScreen SourceKind = "screen"
)

// SourceHandle identifies a capturable media source granted by the host.
type SourceHandle struct {
	ID   string     `json:"id"`
	Kind SourceKind `json:"kind"`
}

type overlayTextPayload struct {
	Text *string `json:"text"`
}

type injectTextPayload struct {
	Content string `json:"content"`
}

type readSelectionResult struct {
	Text string `json:"text"`
}

type focusWindowPayload struct {
	ID string `json:"id"`
}

type focusWindowResult struct {
	Focused bool `json:"focused"`
}

type mediaSourcePayload struct {
	Kind SourceKind `json:"kind"`
}

type mediaSourceResult struct {
	Cancelled bool          `json:"cancelled,omitempty"`
	Source    *SourceHandle `json:"source,omitempty"`
}

// Host is the core-side facade over a shell channel, exposing the host's
// capabilities as plain calls.
type Host struct {
	conn *Conn
}

func NewHost(conn *Conn) *Host {
	return &Host{conn: conn}
}

// ShowOverlayText displays a transient on-screen caption; nil clears it.
func (h *Host) ShowOverlayText(text *string) error {
	return h.conn.Notify(TopicOverlayText, overlayTextPayload{Text: text})
}

// InjectText places text at the current input focus via simulated input.
func (h *Host) InjectText(content string) error {
	return h.conn.Notify(TopicInjectText, injectTextPayload{Content: content})
}

// ReadSelection retrieves the currently selected text via simulated copy.
func (h *Host) ReadSelection(ctx context.Context) (string, error) {
	payload, err := h.conn.Request(ctx, TopicReadSelection, nil)
	if err != nil {
		return "", err
	}
	var res readSelectionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return "", err
	}
	return res.Text, nil
}

func (h *Host) ListWindows(ctx context.Context) ([]WindowDescriptor, error) {
	payload, err := h.conn.Request(ctx, TopicListWindows, nil)
	if err != nil {
		return nil, err
	}
	var windows []WindowDescriptor
	if err := json.Unmarshal(payload, &windows); err != nil {
		return nil, err
	}
	return windows, nil
}

func (h *Host) FocusWindow(ctx context.Context, id string) (bool, error) {
	payload, err := h.conn.Request(ctx, TopicFocusWindow, focusWindowPayload{ID: id})
	if err != nil {
		return false, err
	}
	var res focusWindowResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return false, err
	}
	return res.Focused, nil
}

// RequestMediaSource asks the host for a capturable source of the given kind.
// It returns ErrCancelled when the user dismissed the picker.
func (h *Host) RequestMediaSource(ctx context.Context, kind SourceKind) (*SourceHandle, error) {
	payload, err := h.conn.Request(ctx, TopicRequestMediaSource, mediaSourcePayload{Kind: kind})
	if err != nil {
		return nil, err
	}
	var res mediaSourceResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	if res.Cancelled || res.Source == nil {
		return nil, ErrCancelled
	}
	return res.Source, nil
}

// NotifyState pushes the current flag snapshot to the host.
func (h *Host) NotifyState(s StateSnapshot) error {
	return h.conn.Notify(TopicStateChanged, s)
}
