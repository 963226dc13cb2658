package tool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codewandler/gemlive-go/events"
)

// HandlerError wraps a failure inside a registered handler. It is contained
// locally: the failing call contributes a {success:false} entry and sibling
// calls in the batch are unaffected.
type HandlerError struct {
	Tool string
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("tool %q: handler failed: %v", e.Tool, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// AckFunc is the ack-style handler: its outcome contributes to the single
// combined response that acknowledges every call in the batch. A nil result
// acknowledges with {"success": true}.
type AckFunc func(ctx context.Context, call events.FunctionCall) (map[string]any, error)

// DetachedFunc is the opt-out-style handler: it performs its own reply
// sequencing and suppresses the generic batched ack for the entire batch.
type DetachedFunc func(ctx context.Context, call events.FunctionCall) error

// Handler is a tagged variant over the two handler behaviors.
type Handler interface {
	isHandler()
}

type ackHandler struct{ fn AckFunc }

func (ackHandler) isHandler() {}

type detachedHandler struct{ fn DetachedFunc }

func (detachedHandler) isHandler() {}

// Ack wraps fn as an ack-style handler.
func Ack(fn AckFunc) Handler { return ackHandler{fn: fn} }

// Detached wraps fn as an opt-out-style handler.
func Detached(fn DetachedFunc) Handler { return detachedHandler{fn: fn} }

// Router maps tool names to handlers and turns an inbound call batch into at
// most one combined response. The registry is built at configuration time;
// Register is not safe for concurrent use with Dispatch.
type Router struct {
	logger   *slog.Logger
	handlers map[string]Handler
}

type RouterOption func(*Router)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		logger:   slog.New(slog.DiscardHandler),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Dispatch runs every call of the batch against its registered handler and
// returns the combined responses, id-correlated 1:1 with the inbound calls.
// ack is false when at least one handler in the batch is detached; in that
// case no generic response may be sent for the batch at all and the returned
// slice is nil.
func (r *Router) Dispatch(ctx context.Context, calls []events.FunctionCall) (responses []events.FunctionResponse, ack bool) {
	detached := false
	for _, call := range calls {
		if _, ok := r.handlers[call.Name].(detachedHandler); ok {
			detached = true
			break
		}
	}

	if detached {
		for _, call := range calls {
			r.runDetached(ctx, call)
		}
		return nil, false
	}

	responses = make([]events.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		responses = append(responses, r.runAck(ctx, call))
	}
	return responses, true
}

func (r *Router) runAck(ctx context.Context, call events.FunctionCall) events.FunctionResponse {
	h, ok := r.handlers[call.Name]
	if !ok {
		r.logger.Warn("no handler registered", slog.String("tool", call.Name), slog.String("id", call.ID))
		return failure(call)
	}

	out, err := r.invoke(ctx, h.(ackHandler).fn, call)
	if err != nil {
		r.logger.Error("tool call failed", slog.String("tool", call.Name), slog.String("id", call.ID), slog.Any("err", err))
		return failure(call)
	}
	if out == nil {
		out = map[string]any{"success": true}
	}
	return events.FunctionResponse{ID: call.ID, Name: call.Name, Response: out}
}

func (r *Router) runDetached(ctx context.Context, call events.FunctionCall) {
	h, ok := r.handlers[call.Name]
	if !ok {
		r.logger.Warn("no handler registered", slog.String("tool", call.Name), slog.String("id", call.ID))
		return
	}

	var err error
	switch x := h.(type) {
	case detachedHandler:
		err = r.invokeDetached(ctx, x.fn, call)
	case ackHandler:
		// Ack-style sibling in a detached batch: run it for its side effects,
		// its ack is suppressed together with the rest of the batch.
		_, err = r.invoke(ctx, x.fn, call)
	}
	if err != nil {
		r.logger.Error("tool call failed", slog.String("tool", call.Name), slog.String("id", call.ID), slog.Any("err", err))
	}
}

// invoke shields the router from panicking handlers.
func (r *Router) invoke(ctx context.Context, fn AckFunc, call events.FunctionCall) (out map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = &HandlerError{Tool: call.Name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	out, err = fn(ctx, call)
	if err != nil {
		err = &HandlerError{Tool: call.Name, Err: err}
	}
	return out, err
}

func (r *Router) invokeDetached(ctx context.Context, fn DetachedFunc, call events.FunctionCall) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &HandlerError{Tool: call.Name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	if err = fn(ctx, call); err != nil {
		err = &HandlerError{Tool: call.Name, Err: err}
	}
	return err
}

func failure(call events.FunctionCall) events.FunctionResponse {
	return events.FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: map[string]any{"success": false},
	}
}
