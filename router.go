package gemlive

import (
	"context"
	"log/slog"

	"github.com/codewandler/gemlive-go/tool"
)

// BindTools subscribes the router to the client's inbound tool-call stream.
// Each batch is dispatched off the network goroutine and, unless a handler in
// the batch opted out, answered with exactly one combined tool response.
// The returned handle unsubscribes the router again.
func (c *Client) BindTools(r *tool.Router) func() {
	return c.OnToolCall(func(batch ToolCallBatch) {
		go func() {
			responses, ack := r.Dispatch(context.Background(), batch.Calls)
			if !ack {
				return
			}

			err := c.SendToolResponse(ToolResponseBatch{
				BatchID:   batch.ID,
				Responses: responses,
			})
			if err != nil {
				// Disconnected in the meantime; the batch is abandoned, not queued.
				c.logger.Error("tool response send failed", slog.String("batch", batch.ID), slog.Any("err", err))
			}
		}()
	})
}
