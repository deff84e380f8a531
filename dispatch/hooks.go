package dispatch

import (
	"context"
	"time"

	"github.com/kessig/switchboard/contract"
)

// OnDispatchFunc is called after routing and request validation succeed,
// just before the handler runs.
type OnDispatchFunc func(ctx context.Context, endpoint string, kind contract.Kind)

// OnSuccessFunc is called after a standard handler completes and its
// response is written.
type OnSuccessFunc func(ctx context.Context, endpoint string, status int, duration time.Duration)

// OnFailureFunc is called when a handler returns an error, panics, or
// violates its response contract.
type OnFailureFunc func(ctx context.Context, endpoint string, err error, duration time.Duration)

// OnNotFoundFunc is called when no endpoint matches the request.
type OnNotFoundFunc func(ctx context.Context, method, path string)

// OnValidationErrorFunc is called when request-phase validation rejects a
// request before its handler is invoked.
type OnValidationErrorFunc func(ctx context.Context, endpoint string, err *RequestValidationError)

// OnStreamOpenFunc is called when a long-lived connection (push-event,
// chunked-stream, or message) is accepted.
type OnStreamOpenFunc func(ctx context.Context, endpoint, connID string, kind contract.Kind)

// OnStreamCloseFunc is called when a long-lived connection reaches its
// closed state.
type OnStreamCloseFunc func(ctx context.Context, endpoint, connID string, kind contract.Kind, duration time.Duration)

// hooks holds all configured hook functions.
type hooks struct {
	onDispatch        []OnDispatchFunc
	onSuccess         []OnSuccessFunc
	onFailure         []OnFailureFunc
	onNotFound        []OnNotFoundFunc
	onValidationError []OnValidationErrorFunc
	onStreamOpen      []OnStreamOpenFunc
	onStreamClose     []OnStreamCloseFunc
}

func (h *hooks) dispatch(ctx context.Context, endpoint string, kind contract.Kind) {
	for _, fn := range h.onDispatch {
		fn(ctx, endpoint, kind)
	}
}

func (h *hooks) success(ctx context.Context, endpoint string, status int, d time.Duration) {
	for _, fn := range h.onSuccess {
		fn(ctx, endpoint, status, d)
	}
}

func (h *hooks) failure(ctx context.Context, endpoint string, err error, d time.Duration) {
	for _, fn := range h.onFailure {
		fn(ctx, endpoint, err, d)
	}
}

func (h *hooks) notFound(ctx context.Context, method, path string) {
	for _, fn := range h.onNotFound {
		fn(ctx, method, path)
	}
}

func (h *hooks) validationError(ctx context.Context, endpoint string, err *RequestValidationError) {
	for _, fn := range h.onValidationError {
		fn(ctx, endpoint, err)
	}
}

func (h *hooks) streamOpen(ctx context.Context, endpoint, connID string, kind contract.Kind) {
	for _, fn := range h.onStreamOpen {
		fn(ctx, endpoint, connID, kind)
	}
}

func (h *hooks) streamClose(ctx context.Context, endpoint, connID string, kind contract.Kind, d time.Duration) {
	for _, fn := range h.onStreamClose {
		fn(ctx, endpoint, connID, kind, d)
	}
}

// WithOnDispatch adds a hook called just before a handler executes.
// Multiple hooks are called in order.
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onDispatch = append(d.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after a standard handler completes.
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onSuccess = append(d.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called when a handler fails.
func WithOnFailure(fn OnFailureFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onFailure = append(d.hooks.onFailure, fn)
	}
}

// WithOnNotFound adds a hook called when no endpoint matches a request.
func WithOnNotFound(fn OnNotFoundFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onNotFound = append(d.hooks.onNotFound, fn)
	}
}

// WithOnValidationError adds a hook called when request validation rejects
// a request.
func WithOnValidationError(fn OnValidationErrorFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onValidationError = append(d.hooks.onValidationError, fn)
	}
}

// WithOnStreamOpen adds a hook called when a long-lived connection opens.
func WithOnStreamOpen(fn OnStreamOpenFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onStreamOpen = append(d.hooks.onStreamOpen, fn)
	}
}

// WithOnStreamClose adds a hook called when a long-lived connection closes.
func WithOnStreamClose(fn OnStreamCloseFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onStreamClose = append(d.hooks.onStreamClose, fn)
	}
}
