package evolution

import "context"

// DomainEvent is one classified webhook occurrence, dispatched to the host
// event bus.
type DomainEvent interface {
	EventName() string
}

// Dispatcher delivers domain events to the host. pkg/eventbus has an
// asynchronous fan-out implementation; NopDispatcher is the default.
type Dispatcher interface {
	Dispatch(ctx context.Context, event DomainEvent) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, event DomainEvent) error

func (f DispatcherFunc) Dispatch(ctx context.Context, event DomainEvent) error {
	return f(ctx, event)
}

// NopDispatcher drops every event.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, DomainEvent) error { return nil }

type WebhookReceived struct {
	Webhook *Webhook
}

func (WebhookReceived) EventName() string { return "webhook.received" }

type MessageReceived struct {
	Webhook     *Webhook
	MessageID   string
	RemoteJID   string
	MessageType MessageType
	FromGroup   bool
}

func (MessageReceived) EventName() string { return "message.received" }

type MessageSent struct {
	Webhook     *Webhook
	MessageID   string
	RemoteJID   string
	MessageType MessageType
}

func (MessageSent) EventName() string { return "message.sent" }

type MessageDelivered struct {
	Webhook   *Webhook
	MessageID string
	RemoteJID string
}

func (MessageDelivered) EventName() string { return "message.delivered" }

type MessageRead struct {
	Webhook   *Webhook
	MessageID string
	RemoteJID string
}

func (MessageRead) EventName() string { return "message.read" }

type MessagePlayed struct {
	Webhook   *Webhook
	MessageID string
	RemoteJID string
}

func (MessagePlayed) EventName() string { return "message.played" }

type MessageStatusUpdated struct {
	Webhook   *Webhook
	MessageID string
	RemoteJID string
	Status    MessageStatus
}

func (MessageStatusUpdated) EventName() string { return "message.status_updated" }

type MessageDeleted struct {
	Webhook   *Webhook
	MessageID string
	RemoteJID string
}

func (MessageDeleted) EventName() string { return "message.deleted" }

type ConnectionUpdated struct {
	Webhook  *Webhook
	Instance string
	State    ConnectionState
	RawState string
}

func (ConnectionUpdated) EventName() string { return "connection.updated" }

type InstanceStatusChanged struct {
	Webhook  *Webhook
	Instance string
	State    ConnectionState
}

func (InstanceStatusChanged) EventName() string { return "instance.status_changed" }

type QRCodeReceived struct {
	Webhook     *Webhook
	Instance    string
	Base64      string
	PairingCode string
	Attempt     int
}

func (QRCodeReceived) EventName() string { return "qrcode.received" }

type PresenceUpdated struct {
	Webhook   *Webhook
	RemoteJID string
}

func (PresenceUpdated) EventName() string { return "presence.updated" }

type GroupChanged struct {
	Webhook *Webhook
	Action  string
}

func (GroupChanged) EventName() string { return "group.changed" }

type ContactsChanged struct {
	Webhook *Webhook
	Action  string
}

func (ContactsChanged) EventName() string { return "contacts.changed" }

type ChatsChanged struct {
	Webhook *Webhook
	Action  string
}

func (ChatsChanged) EventName() string { return "chats.changed" }

type CallReceived struct {
	Webhook *Webhook
}

func (CallReceived) EventName() string { return "call.received" }

type LabelsChanged struct {
	Webhook *Webhook
	Action  string
}

func (LabelsChanged) EventName() string { return "labels.changed" }
