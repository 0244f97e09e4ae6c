package evolution

// MessageType classifies the shape of a message body.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
	MessageLocation MessageType = "location"
	MessageContact  MessageType = "contact"
	MessageReaction MessageType = "reaction"
	MessagePoll     MessageType = "poll"
	MessageList     MessageType = "list"
	MessageButton   MessageType = "button"
	MessageTemplate MessageType = "template"
	MessageUnknown  MessageType = ""
)

// Keys are probed in this fixed order; the first present wins.
var messageTypeKeys = []struct {
	key string
	typ MessageType
}{
	{"conversation", MessageText},
	{"extendedTextMessage", MessageText},
	{"imageMessage", MessageImage},
	{"videoMessage", MessageVideo},
	{"audioMessage", MessageAudio},
	{"documentMessage", MessageDocument},
	{"stickerMessage", MessageSticker},
	{"locationMessage", MessageLocation},
	{"contactMessage", MessageContact},
	{"contactsArrayMessage", MessageContact},
	{"reactionMessage", MessageReaction},
	{"pollCreationMessage", MessagePoll},
	{"listMessage", MessageList},
	{"listResponseMessage", MessageList},
	{"buttonsMessage", MessageButton},
	{"buttonsResponseMessage", MessageButton},
	{"templateMessage", MessageTemplate},
}

// DetectMessageType inspects which known message-shape key the body carries.
func DetectMessageType(message map[string]any) MessageType {
	if message == nil {
		return MessageUnknown
	}
	for _, candidate := range messageTypeKeys {
		if _, ok := message[candidate.key]; ok {
			return candidate.typ
		}
	}
	return MessageUnknown
}

// MessageType classifies the envelope's nested message body.
func (w *Webhook) MessageType() MessageType {
	return DetectMessageType(w.Message())
}
