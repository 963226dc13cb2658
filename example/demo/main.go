package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	gemlive "github.com/codewandler/gemlive-go"
	"github.com/codewandler/gemlive-go/audio"
	"github.com/codewandler/gemlive-go/events"
	"github.com/codewandler/gemlive-go/shell"
	"github.com/codewandler/gemlive-go/tool"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		debug       = false
		instruction = "You are a friendly voice assistant. Keep answers short."
	)
	flag.StringVar(&instruction, "instruction", instruction, "system instruction for the session")
	flag.BoolVar(&debug, "debug", false, "enable debug logs")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelError)
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	// In a real desktop app the far end of the pipe lives in the UI process.
	// Here a tiny in-process host prints overlays and media requests.
	coreEnd, hostEnd := shell.Pipe()
	defer coreEnd.Close()
	defer hostEnd.Close()
	hostEnd.Handle(shell.TopicOverlayText, func(payload json.RawMessage) (any, error) {
		var req struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.Text != nil {
			println("overlay>", *req.Text)
		}
		return nil, nil
	})
	hostEnd.Handle(shell.TopicStateChanged, func(payload json.RawMessage) (any, error) {
		slog.Debug("state changed", slog.String("payload", string(payload)))
		return nil, nil
	})
	host := shell.NewHost(coreEnd)

	client := gemlive.New(
		gemlive.WithDefaultLogger(),
		gemlive.WithEnvKey(),
		gemlive.WithInstruction(instruction),
		gemlive.WithTools(
			tool.Declaration{
				Name:        "get_time",
				Description: "Get the current local time",
				Parameters: tool.Parameters{
					Type:       "object",
					Properties: tool.Properties{},
					Required:   []string{},
				},
			},
			tool.Declaration{
				Name:        "conversation_end",
				Description: "End the conversation",
				Parameters: tool.Parameters{
					Type:       "object",
					Properties: tool.Properties{},
					Required:   []string{},
				},
			},
		),
	)

	router := tool.NewRouter()
	router.Register("get_time", tool.Ack(func(ctx context.Context, c events.FunctionCall) (map[string]any, error) {
		return map[string]any{"time": time.Now().Format(time.RFC3339)}, nil
	}))
	router.Register("conversation_end", tool.Detached(func(ctx context.Context, c events.FunctionCall) error {
		cancel()
		return nil
	}))
	unbind := client.BindTools(router)
	defer unbind()

	speaker := audio.NewPlaybackEngine()
	must(speaker.Start())
	defer speaker.Close()

	mic := audio.NewCaptureEngine()
	mic.OnData(func(chunk events.MediaChunk) {
		client.SendRealtimeInput(chunk)
	})

	client.OnAudio(func(blob events.Blob) {
		if err := speaker.Enqueue(blob); err != nil {
			slog.Error("enqueue", slog.Any("err", err))
		}
	})
	client.OnInterrupted(func() {
		speaker.Interrupt()
	})
	client.OnContent(func(parts []events.Part) {
		for _, p := range parts {
			if p.Text != "" {
				println("agent>", p.Text)
				_ = host.ShowOverlayText(&p.Text)
			}
		}
	})
	client.OnClose(func(code int, reason string) {
		slog.Info("session closed", slog.Int("code", code), slog.String("reason", reason))
		cancel()
	})

	must(client.Connect(ctx))
	defer client.Disconnect()

	must(mic.Start())
	defer mic.Stop()

	_ = host.NotifyState(shell.StateSnapshot{Connected: true})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
}
