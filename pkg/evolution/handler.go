package evolution

import "context"

// Handler consumes webhook envelopes. ShouldHandle is asked before Handle;
// a handler scoped to other instances or event kinds answers false and is
// skipped.
type Handler interface {
	ShouldHandle(w *Webhook) bool
	Handle(ctx context.Context, w *Webhook) error
}

// HandlerFunc adapts a plain function into an unscoped Handler.
type HandlerFunc func(ctx context.Context, w *Webhook) error

func (f HandlerFunc) ShouldHandle(*Webhook) bool { return true }

func (f HandlerFunc) Handle(ctx context.Context, w *Webhook) error { return f(ctx, w) }

// ScopedHandler wraps a function with instance and event allow-lists. An
// empty list means no filtering on that axis.
type ScopedHandler struct {
	fn        HandlerFunc
	instances []string
	events    []Event
}

func NewScopedHandler(fn HandlerFunc) *ScopedHandler {
	return &ScopedHandler{fn: fn}
}

// ForInstances restricts the handler to the named instances.
func (h *ScopedHandler) ForInstances(names ...string) *ScopedHandler {
	h.instances = append(h.instances, names...)
	return h
}

// ForEvents restricts the handler to the named event kinds.
func (h *ScopedHandler) ForEvents(events ...Event) *ScopedHandler {
	h.events = append(h.events, events...)
	return h
}

func (h *ScopedHandler) ShouldHandle(w *Webhook) bool {
	if len(h.instances) > 0 {
		found := false
		for _, name := range h.instances {
			if name == w.Instance {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(h.events) > 0 {
		found := false
		for _, event := range h.events {
			if event == w.Event {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (h *ScopedHandler) Handle(ctx context.Context, w *Webhook) error {
	return h.fn(ctx, w)
}
