package evolution

import (
	"strings"
	"time"
)

// Event is the closed set of webhook event kinds the gateway emits. Anything
// outside the set parses to EventUnknown with the original string preserved
// on the envelope.
type Event string

const (
	EventApplicationStartup     Event = "APPLICATION_STARTUP"
	EventQRCodeUpdated          Event = "QRCODE_UPDATED"
	EventConnectionUpdate       Event = "CONNECTION_UPDATE"
	EventMessagesSet            Event = "MESSAGES_SET"
	EventMessagesUpsert         Event = "MESSAGES_UPSERT"
	EventMessagesUpdate         Event = "MESSAGES_UPDATE"
	EventMessagesDelete         Event = "MESSAGES_DELETE"
	EventSendMessage            Event = "SEND_MESSAGE"
	EventContactsSet            Event = "CONTACTS_SET"
	EventContactsUpsert         Event = "CONTACTS_UPSERT"
	EventContactsUpdate         Event = "CONTACTS_UPDATE"
	EventChatsSet               Event = "CHATS_SET"
	EventChatsUpsert            Event = "CHATS_UPSERT"
	EventChatsUpdate            Event = "CHATS_UPDATE"
	EventChatsDelete            Event = "CHATS_DELETE"
	EventGroupsUpsert           Event = "GROUPS_UPSERT"
	EventGroupUpdate            Event = "GROUP_UPDATE"
	EventGroupParticipants      Event = "GROUP_PARTICIPANTS_UPDATE"
	EventPresenceUpdate         Event = "PRESENCE_UPDATE"
	EventLabelsEdit             Event = "LABELS_EDIT"
	EventLabelsAssociation      Event = "LABELS_ASSOCIATION"
	EventCall                   Event = "CALL"
	EventRemoveInstance         Event = "REMOVE_INSTANCE"
	EventLogoutInstance         Event = "LOGOUT_INSTANCE"
	EventUnknown                Event = "UNKNOWN"
)

var knownEvents = map[Event]struct{}{
	EventApplicationStartup: {}, EventQRCodeUpdated: {}, EventConnectionUpdate: {},
	EventMessagesSet: {}, EventMessagesUpsert: {}, EventMessagesUpdate: {},
	EventMessagesDelete: {}, EventSendMessage: {},
	EventContactsSet: {}, EventContactsUpsert: {}, EventContactsUpdate: {},
	EventChatsSet: {}, EventChatsUpsert: {}, EventChatsUpdate: {}, EventChatsDelete: {},
	EventGroupsUpsert: {}, EventGroupUpdate: {}, EventGroupParticipants: {},
	EventPresenceUpdate: {}, EventLabelsEdit: {}, EventLabelsAssociation: {},
	EventCall: {}, EventRemoveInstance: {}, EventLogoutInstance: {},
}

// ParseEvent maps an event string onto the known set. The comparison is
// case-insensitive and tolerates the dashed lowercase form used in
// webhook-by-events paths (messages-upsert).
func ParseEvent(raw string) Event {
	normalized := Event(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_")))
	if _, ok := knownEvents[normalized]; ok {
		return normalized
	}
	return EventUnknown
}

// Webhook is the normalized envelope of one inbound webhook call. It is
// built once by ParseWebhook and read-only afterwards.
type Webhook struct {
	Event      Event
	RawEvent   string
	Instance   string
	Data       map[string]any
	APIKey     string
	ReceivedAt int64
}

// ParseWebhook normalizes a raw webhook body: the event and instance fields
// are hoisted onto the envelope and stripped from the remaining data, as is
// the gateway's echoed api key.
func ParseWebhook(body map[string]any) *Webhook {
	w := &Webhook{
		RawEvent:   "UNKNOWN",
		Data:       make(map[string]any, len(body)),
		ReceivedAt: time.Now().Unix(),
	}

	for k, v := range body {
		switch k {
		case "event":
			if s, ok := v.(string); ok && s != "" {
				w.RawEvent = s
			}
		case "instance":
			if s, ok := v.(string); ok && w.Instance == "" {
				w.Instance = s
			}
		case "instanceName":
			if s, ok := v.(string); ok && w.Instance == "" {
				w.Instance = s
			}
		case "apikey", "apiKey":
			if s, ok := v.(string); ok && w.APIKey == "" {
				w.APIKey = s
			}
		default:
			w.Data[k] = v
		}
	}
	// "instance" wins over "instanceName" when both are present.
	if s, ok := body["instance"].(string); ok && s != "" {
		w.Instance = s
	}

	w.Event = ParseEvent(w.RawEvent)
	return w
}

// Get performs a dotted-path lookup into the envelope data, returning def
// when the path is absent or traverses a non-map value. It never panics on
// shape mismatches.
func (w *Webhook) Get(path string, def any) any {
	return lookupPath(w.Data, path, def)
}

// GetString is Get for string values.
func (w *Webhook) GetString(path, def string) string {
	if v, ok := lookupPath(w.Data, path, nil).(string); ok {
		return v
	}
	return def
}

// Has reports whether the dotted path resolves to a non-null value.
func (w *Webhook) Has(path string) bool {
	return hasPath(w.Data, path)
}

// MessageID returns the message id across the gateway's shape variants.
func (w *Webhook) MessageID() string {
	return firstString(w.Data, "data.key.id", "key.id", "data.messageId", "messageId")
}

// RemoteJID returns the remote participant id across shape variants.
func (w *Webhook) RemoteJID() string {
	return firstString(w.Data, "data.key.remoteJid", "key.remoteJid", "data.remoteJid", "remoteJid")
}

// ConnectionStatus returns the raw connection state string, if present.
func (w *Webhook) ConnectionStatus() string {
	return firstString(w.Data, "data.state", "state", "data.status", "status")
}

// QRCode returns the base64 QR image from a QRCODE_UPDATED payload.
func (w *Webhook) QRCode() string {
	return firstString(w.Data, "data.qrcode.base64", "qrcode.base64", "data.base64", "base64")
}

// QRContent returns the raw QR code content string, usable for rendering a
// fresh image.
func (w *Webhook) QRContent() string {
	return firstString(w.Data, "data.qrcode.code", "qrcode.code", "data.code", "code")
}

// PairingCode returns the phone pairing code, if the gateway sent one.
func (w *Webhook) PairingCode() string {
	return firstString(w.Data, "data.qrcode.pairingCode", "qrcode.pairingCode", "data.pairingCode", "pairingCode")
}

// QRAttempt returns the QR refresh attempt counter, 0 when absent.
func (w *Webhook) QRAttempt() int {
	for _, path := range []string{"data.qrcode.count", "qrcode.count", "data.count", "count"} {
		if n, ok := asInt(lookupPath(w.Data, path, nil)); ok {
			return n
		}
	}
	return 0
}

// IsFromGroup reports whether the remote participant is a group chat.
func (w *Webhook) IsFromGroup() bool {
	return strings.HasSuffix(w.RemoteJID(), "@g.us")
}

// Message returns the nested message body across shape variants, nil when
// absent.
func (w *Webhook) Message() map[string]any {
	for _, path := range []string{"data.message", "message"} {
		if m, ok := lookupPath(w.Data, path, nil).(map[string]any); ok {
			return m
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
