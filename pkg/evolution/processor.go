package evolution

import (
	"context"
	"sync"
)

// WebhookProcessor classifies inbound webhook payloads, dispatches the
// matching domain events and invokes registered handlers. Each Process call
// is independent; failures are reported as one webhook-processing error
// wrapping the original cause, and retry is left to the transport invoking
// Process.
type WebhookProcessor struct {
	mu            sync.RWMutex
	handlers      map[Event][]Handler
	wildcards     []Handler
	dispatcher    Dispatcher
	logger        Logger
	eventsEnabled bool
}

func NewWebhookProcessor(dispatcher Dispatcher, logger Logger) *WebhookProcessor {
	if dispatcher == nil {
		dispatcher = NopDispatcher{}
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &WebhookProcessor{
		handlers:      make(map[Event][]Handler),
		dispatcher:    dispatcher,
		logger:        logger,
		eventsEnabled: true,
	}
}

// RegisterHandler adds a handler for one event kind. Handlers for a kind run
// in registration order.
func (p *WebhookProcessor) RegisterHandler(event Event, handler Handler) {
	p.mu.Lock()
	p.handlers[event] = append(p.handlers[event], handler)
	p.mu.Unlock()
}

// RegisterWildcardHandler adds a handler invoked for every event kind, after
// the event-scoped handlers.
func (p *WebhookProcessor) RegisterWildcardHandler(handler Handler) {
	p.mu.Lock()
	p.wildcards = append(p.wildcards, handler)
	p.mu.Unlock()
}

// RemoveHandler drops every handler registered for the event kind.
func (p *WebhookProcessor) RemoveHandler(event Event) {
	p.mu.Lock()
	delete(p.handlers, event)
	p.mu.Unlock()
}

// EnableEvents turns domain event dispatching on (the default). Handlers run
// regardless of this flag.
func (p *WebhookProcessor) EnableEvents() {
	p.mu.Lock()
	p.eventsEnabled = true
	p.mu.Unlock()
}

// DisableEvents turns domain event dispatching off.
func (p *WebhookProcessor) DisableEvents() {
	p.mu.Lock()
	p.eventsEnabled = false
	p.mu.Unlock()
}

func (p *WebhookProcessor) EventsEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.eventsEnabled
}

// Process normalizes rawBody and runs the full pipeline: generic received
// event, classified domain events, event-scoped handlers, wildcard handlers.
func (p *WebhookProcessor) Process(ctx context.Context, rawBody map[string]any) error {
	w := ParseWebhook(rawBody)

	p.logger.Info("processing webhook", map[string]any{
		"event":    string(w.Event),
		"raw":      w.RawEvent,
		"instance": w.Instance,
	})

	if err := p.run(ctx, w); err != nil {
		wrapped := newWebhookProcessingError(w.Event, w.Instance, err)
		p.logger.Error("webhook processing failed", map[string]any{
			"event":    string(w.Event),
			"instance": w.Instance,
			"error":    err.Error(),
		})
		return wrapped
	}
	return nil
}

func (p *WebhookProcessor) run(ctx context.Context, w *Webhook) error {
	p.mu.RLock()
	eventsEnabled := p.eventsEnabled
	scoped := append([]Handler(nil), p.handlers[w.Event]...)
	wildcards := append([]Handler(nil), p.wildcards...)
	p.mu.RUnlock()

	if eventsEnabled {
		if err := p.dispatcher.Dispatch(ctx, WebhookReceived{Webhook: w}); err != nil {
			return err
		}
		for _, event := range p.classify(w) {
			if err := p.dispatcher.Dispatch(ctx, event); err != nil {
				return err
			}
		}
	}

	for _, handler := range scoped {
		if !handler.ShouldHandle(w) {
			continue
		}
		if err := handler.Handle(ctx, w); err != nil {
			return err
		}
	}
	for _, handler := range wildcards {
		if !handler.ShouldHandle(w) {
			continue
		}
		if err := handler.Handle(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// classify maps the envelope onto zero or more specific domain events. Every
// mapping is guarded by the fields the event cannot exist without: no
// message id, no message event; no state string, no connection event.
func (p *WebhookProcessor) classify(w *Webhook) []DomainEvent {
	var events []DomainEvent

	switch w.Event {
	case EventMessagesUpsert, EventMessagesSet:
		if id := w.MessageID(); id != "" {
			events = append(events, MessageReceived{
				Webhook:     w,
				MessageID:   id,
				RemoteJID:   w.RemoteJID(),
				MessageType: w.MessageType(),
				FromGroup:   w.IsFromGroup(),
			})
		}

	case EventSendMessage:
		if id := w.MessageID(); id != "" {
			events = append(events, MessageSent{
				Webhook:     w,
				MessageID:   id,
				RemoteJID:   w.RemoteJID(),
				MessageType: w.MessageType(),
			})
		}

	case EventMessagesUpdate:
		id := w.MessageID()
		jid := w.RemoteJID()
		if id == "" || jid == "" {
			break
		}
		raw := lookupFirst(w.Data, "data.status", "status", "data.update.status", "update.status")
		switch ParseMessageStatus(raw) {
		case StatusDelivered:
			events = append(events, MessageDelivered{Webhook: w, MessageID: id, RemoteJID: jid})
		case StatusRead:
			events = append(events, MessageRead{Webhook: w, MessageID: id, RemoteJID: jid})
		case StatusPlayed:
			events = append(events, MessagePlayed{Webhook: w, MessageID: id, RemoteJID: jid})
		default:
			events = append(events, MessageStatusUpdated{Webhook: w, MessageID: id, RemoteJID: jid, Status: ParseMessageStatus(raw)})
		}

	case EventMessagesDelete:
		if id := w.MessageID(); id != "" {
			events = append(events, MessageDeleted{Webhook: w, MessageID: id, RemoteJID: w.RemoteJID()})
		}

	case EventConnectionUpdate:
		raw := w.ConnectionStatus()
		if raw == "" {
			break
		}
		state := ParseConnectionState(raw)
		events = append(events,
			ConnectionUpdated{Webhook: w, Instance: w.Instance, State: state, RawState: raw},
			InstanceStatusChanged{Webhook: w, Instance: w.Instance, State: state},
		)

	case EventQRCodeUpdated:
		if qr := w.QRCode(); qr != "" {
			events = append(events, QRCodeReceived{
				Webhook:     w,
				Instance:    w.Instance,
				Base64:      qr,
				PairingCode: w.PairingCode(),
				Attempt:     w.QRAttempt(),
			})
		}

	case EventPresenceUpdate:
		events = append(events, PresenceUpdated{Webhook: w, RemoteJID: w.RemoteJID()})

	case EventGroupsUpsert:
		events = append(events, GroupChanged{Webhook: w, Action: "upsert"})
	case EventGroupUpdate:
		events = append(events, GroupChanged{Webhook: w, Action: "update"})
	case EventGroupParticipants:
		events = append(events, GroupChanged{Webhook: w, Action: "participants"})

	case EventContactsSet:
		events = append(events, ContactsChanged{Webhook: w, Action: "set"})
	case EventContactsUpsert:
		events = append(events, ContactsChanged{Webhook: w, Action: "upsert"})
	case EventContactsUpdate:
		events = append(events, ContactsChanged{Webhook: w, Action: "update"})

	case EventChatsSet:
		events = append(events, ChatsChanged{Webhook: w, Action: "set"})
	case EventChatsUpsert:
		events = append(events, ChatsChanged{Webhook: w, Action: "upsert"})
	case EventChatsUpdate:
		events = append(events, ChatsChanged{Webhook: w, Action: "update"})
	case EventChatsDelete:
		events = append(events, ChatsChanged{Webhook: w, Action: "delete"})

	case EventCall:
		events = append(events, CallReceived{Webhook: w})

	case EventLabelsEdit:
		events = append(events, LabelsChanged{Webhook: w, Action: "edit"})
	case EventLabelsAssociation:
		events = append(events, LabelsChanged{Webhook: w, Action: "association"})
	}

	return events
}

func lookupFirst(data map[string]any, paths ...string) any {
	for _, path := range paths {
		if v := lookupPath(data, path, nil); v != nil {
			return v
		}
	}
	return nil
}
