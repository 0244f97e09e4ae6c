package evolution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	events []DomainEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event DomainEvent) error {
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) names() []string {
	out := make([]string, len(d.events))
	for i, e := range d.events {
		out[i] = e.EventName()
	}
	return out
}

func messagesUpsertBody(instance, id string) map[string]any {
	return map[string]any{
		"event":    "MESSAGES_UPSERT",
		"instance": instance,
		"data": map[string]any{
			"key":     map[string]any{"id": id, "remoteJid": "551199@s.whatsapp.net"},
			"message": map[string]any{"conversation": "hi"},
		},
	}
}

func TestProcessDispatchesReceivedAndClassifiedEvents(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	processor := NewWebhookProcessor(dispatcher, nil)

	require.NoError(t, processor.Process(context.Background(), messagesUpsertBody("tenant1", "m1")))

	require.Equal(t, []string{"webhook.received", "message.received"}, dispatcher.names())
	received := dispatcher.events[1].(MessageReceived)
	assert.Equal(t, "m1", received.MessageID)
	assert.Equal(t, "551199@s.whatsapp.net", received.RemoteJID)
	assert.Equal(t, MessageText, received.MessageType)
	assert.False(t, received.FromGroup)
}

func TestMessagesUpsertWithoutIDEmitsOnlyReceived(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	processor := NewWebhookProcessor(dispatcher, nil)

	require.NoError(t, processor.Process(context.Background(), map[string]any{
		"event":    "MESSAGES_UPSERT",
		"instance": "tenant1",
		"data":     map[string]any{"message": map[string]any{"conversation": "hi"}},
	}))

	assert.Equal(t, []string{"webhook.received"}, dispatcher.names())
}

func TestMessagesUpdateStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status any
		want   string
	}{
		{"numeric delivered", float64(3), "message.delivered"},
		{"numeric read", float64(4), "message.read"},
		{"numeric played", float64(5), "message.played"},
		{"ack name", "DELIVERY_ACK", "message.delivered"},
		{"unrecognized", "SOMETHING", "message.status_updated"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dispatcher := &recordingDispatcher{}
			processor := NewWebhookProcessor(dispatcher, nil)

			require.NoError(t, processor.Process(context.Background(), map[string]any{
				"event":    "MESSAGES_UPDATE",
				"instance": "tenant1",
				"data": map[string]any{
					"key":    map[string]any{"id": "m1", "remoteJid": "551199@s.whatsapp.net"},
					"status": tc.status,
				},
			}))

			assert.Equal(t, []string{"webhook.received", tc.want}, dispatcher.names())
		})
	}
}

func TestMessagesUpdateWithoutIdentityEmitsNoStatusEvent(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	processor := NewWebhookProcessor(dispatcher, nil)

	require.NoError(t, processor.Process(context.Background(), map[string]any{
		"event":    "MESSAGES_UPDATE",
		"instance": "tenant1",
		"data":     map[string]any{"status": float64(3)},
	}))

	assert.Equal(t, []string{"webhook.received"}, dispatcher.names())
}

func TestConnectionUpdateEmitsBothStateEvents(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	processor := NewWebhookProcessor(dispatcher, nil)

	require.NoError(t, processor.Process(context.Background(), map[string]any{
		"event":    "CONNECTION_UPDATE",
		"instance": "tenant1",
		"data":     map[string]any{"state": "open"},
	}))

	require.Equal(t, []string{"webhook.received", "connection.updated", "instance.status_changed"}, dispatcher.names())
	updated := dispatcher.events[1].(ConnectionUpdated)
	assert.Equal(t, StateConnected, updated.State)
	assert.Equal(t, "open", updated.RawState)
	assert.Equal(t, "tenant1", updated.Instance)
}

func TestConnectionUpdateWithoutStateIsIgnored(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	processor := NewWebhookProcessor(dispatcher, nil)

	require.NoError(t, processor.Process(context.Background(), map[string]any{
		"event":    "CONNECTION_UPDATE",
		"instance": "tenant1",
		"data":     map[string]any{},
	}))

	assert.Equal(t, []string{"webhook.received"}, dispatcher.names())
}

func TestQRCodeUpdatedEmitsQRCodeReceived(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	processor := NewWebhookProcessor(dispatcher, nil)

	require.NoError(t, processor.Process(context.Background(), map[string]any{
		"event":    "QRCODE_UPDATED",
		"instance": "tenant1",
		"data": map[string]any{
			"qrcode": map[string]any{"base64": "imgdata", "pairingCode": "ABCD-1234"},
			"count":  float64(1),
		},
	}))

	require.Equal(t, []string{"webhook.received", "qrcode.received"}, dispatcher.names())
	qr := dispatcher.events[1].(QRCodeReceived)
	assert.Equal(t, "imgdata", qr.Base64)
	assert.Equal(t, "ABCD-1234", qr.PairingCode)
	assert.Equal(t, 1, qr.Attempt)
}

func TestScopedHandlersRunBeforeWildcards(t *testing.T) {
	processor := NewWebhookProcessor(nil, nil)

	var order []string
	processor.RegisterHandler(EventMessagesUpsert, HandlerFunc(func(context.Context, *Webhook) error {
		order = append(order, "scoped")
		return nil
	}))
	processor.RegisterWildcardHandler(HandlerFunc(func(context.Context, *Webhook) error {
		order = append(order, "wildcard")
		return nil
	}))
	processor.RegisterHandler(EventConnectionUpdate, HandlerFunc(func(context.Context, *Webhook) error {
		order = append(order, "other")
		return nil
	}))

	require.NoError(t, processor.Process(context.Background(), messagesUpsertBody("tenant1", "m1")))
	assert.Equal(t, []string{"scoped", "wildcard"}, order)
}

func TestScopedHandlerInstanceFilter(t *testing.T) {
	processor := NewWebhookProcessor(nil, nil)

	var seen []string
	handler := NewScopedHandler(func(_ context.Context, w *Webhook) error {
		seen = append(seen, w.Instance)
		return nil
	}).ForInstances("tenant1")
	processor.RegisterWildcardHandler(handler)

	require.NoError(t, processor.Process(context.Background(), messagesUpsertBody("tenant1", "m1")))
	require.NoError(t, processor.Process(context.Background(), messagesUpsertBody("tenant2", "m2")))

	assert.Equal(t, []string{"tenant1"}, seen)
}

func TestHandlerFailureWrapsCause(t *testing.T) {
	processor := NewWebhookProcessor(nil, nil)
	cause := errors.New("database gone")
	processor.RegisterHandler(EventMessagesUpsert, HandlerFunc(func(context.Context, *Webhook) error {
		return cause
	}))

	err := processor.Process(context.Background(), messagesUpsertBody("tenant1", "m1"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindWebhookProcessing))
	assert.ErrorIs(t, err, cause)
	ee := AsError(err)
	assert.Equal(t, EventMessagesUpsert, ee.Event)
	assert.Equal(t, "tenant1", ee.Instance)
}

func TestDisabledEventsStillRunHandlers(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	processor := NewWebhookProcessor(dispatcher, nil)
	processor.DisableEvents()

	handled := false
	processor.RegisterHandler(EventMessagesUpsert, HandlerFunc(func(context.Context, *Webhook) error {
		handled = true
		return nil
	}))

	require.NoError(t, processor.Process(context.Background(), messagesUpsertBody("tenant1", "m1")))
	assert.Empty(t, dispatcher.events)
	assert.True(t, handled)

	processor.EnableEvents()
	require.NoError(t, processor.Process(context.Background(), messagesUpsertBody("tenant1", "m1")))
	assert.NotEmpty(t, dispatcher.events)
}

func TestRemoveHandler(t *testing.T) {
	processor := NewWebhookProcessor(nil, nil)

	calls := 0
	processor.RegisterHandler(EventMessagesUpsert, HandlerFunc(func(context.Context, *Webhook) error {
		calls++
		return nil
	}))

	require.NoError(t, processor.Process(context.Background(), messagesUpsertBody("tenant1", "m1")))
	processor.RemoveHandler(EventMessagesUpsert)
	require.NoError(t, processor.Process(context.Background(), messagesUpsertBody("tenant1", "m1")))

	assert.Equal(t, 1, calls)
}

func TestUnknownEventReachesWildcardsOnly(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	processor := NewWebhookProcessor(dispatcher, nil)

	wildcardRan := false
	processor.RegisterWildcardHandler(HandlerFunc(func(_ context.Context, w *Webhook) error {
		wildcardRan = true
		assert.Equal(t, EventUnknown, w.Event)
		assert.Equal(t, "FUTURE_EVENT", w.RawEvent)
		return nil
	}))

	require.NoError(t, processor.Process(context.Background(), map[string]any{
		"event":    "FUTURE_EVENT",
		"instance": "tenant1",
	}))

	assert.True(t, wildcardRan)
	assert.Equal(t, []string{"webhook.received"}, dispatcher.names())
}
