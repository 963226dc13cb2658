package shell

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConn_RequestResponse(t *testing.T) {
	core, hostEnd := Pipe()
	defer core.Close()
	defer hostEnd.Close()

	hostEnd.Handle(TopicReadSelection, func(payload json.RawMessage) (any, error) {
		return readSelectionResult{Text: "lorem ipsum"}, nil
	})

	host := NewHost(core)
	text, err := host.ReadSelection(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, "lorem ipsum", text)
}

func TestConn_ConcurrentRequestsCorrelate(t *testing.T) {
	core, hostEnd := Pipe()
	defer core.Close()
	defer hostEnd.Close()

	hostEnd.Handle(TopicFocusWindow, func(payload json.RawMessage) (any, error) {
		var req focusWindowPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return focusWindowResult{Focused: req.ID == "win-1"}, nil
	})

	host := NewHost(core)
	ctx := testCtx(t)

	type result struct {
		focused bool
		err     error
	}
	results := make(chan result, 2)
	for _, id := range []string{"win-1", "win-2"} {
		go func(id string) {
			ok, err := host.FocusWindow(ctx, id)
			results <- result{focused: ok, err: err}
		}(id)
	}

	var focused int
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		if r.focused {
			focused++
		}
	}
	require.Equal(t, 1, focused, "replies must pair with their own request")
}

func TestConn_HandlerErrorPropagates(t *testing.T) {
	core, hostEnd := Pipe()
	defer core.Close()
	defer hostEnd.Close()

	hostEnd.Handle(TopicListWindows, func(payload json.RawMessage) (any, error) {
		return nil, errors.New("enumeration unavailable")
	})

	_, err := NewHost(core).ListWindows(testCtx(t))
	require.ErrorContains(t, err, "enumeration unavailable")
}

func TestConn_UnsupportedTopicRejected(t *testing.T) {
	core, hostEnd := Pipe()
	defer core.Close()
	defer hostEnd.Close()

	_, err := core.Request(testCtx(t), Topic("no.such.topic"), nil)
	require.ErrorContains(t, err, "unsupported topic")
}

func TestConn_NotifyReachesHandler(t *testing.T) {
	core, hostEnd := Pipe()
	defer core.Close()
	defer hostEnd.Close()

	got := make(chan StateSnapshot, 1)
	hostEnd.Handle(TopicStateChanged, func(payload json.RawMessage) (any, error) {
		var s StateSnapshot
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		got <- s
		return nil, nil
	})

	host := NewHost(core)
	require.NoError(t, host.NotifyState(StateSnapshot{Muted: true, Connected: true}))

	select {
	case s := <-got:
		require.True(t, s.Muted)
		require.True(t, s.Connected)
		require.False(t, s.ScreenSharing)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestHost_RequestMediaSource(t *testing.T) {
	core, hostEnd := Pipe()
	defer core.Close()
	defer hostEnd.Close()

	granted := SourceHandle{ID: "screen:0", Kind: SourceScreen}
	var cancel bool
	hostEnd.Handle(TopicRequestMediaSource, func(payload json.RawMessage) (any, error) {
		if cancel {
			return mediaSourceResult{Cancelled: true}, nil
		}
		return mediaSourceResult{Source: &granted}, nil
	})

	host := NewHost(core)

	handle, err := host.RequestMediaSource(testCtx(t), SourceScreen)
	require.NoError(t, err)
	require.Equal(t, &granted, handle)

	cancel = true
	_, err = host.RequestMediaSource(testCtx(t), SourceScreen)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestConn_RequestAfterCloseFails(t *testing.T) {
	core, hostEnd := Pipe()
	defer hostEnd.Close()

	core.Close()
	core.Close() // idempotent

	_, err := core.Request(testCtx(t), TopicReadSelection, nil)
	require.ErrorContains(t, err, "closed")
}

func TestConn_RequestHonorsContext(t *testing.T) {
	core, hostEnd := Pipe()
	defer core.Close()
	defer hostEnd.Close()

	// hostEnd has a handler that never answers in time.
	hostEnd.Handle(TopicReadSelection, func(payload json.RawMessage) (any, error) {
		time.Sleep(time.Second)
		return readSelectionResult{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := core.Request(ctx, TopicReadSelection, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
