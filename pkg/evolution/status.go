package evolution

import (
	"strconv"
	"strings"
)

// MessageStatus is the normalized message delivery status vocabulary. The
// gateway reports both numeric ack codes and string synonyms; both map here.
type MessageStatus string

const (
	StatusError     MessageStatus = "error"
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusPlayed    MessageStatus = "played"
	StatusUnknown   MessageStatus = "unknown"
)

// ParseMessageStatus normalizes a raw status value: numeric codes 1-5 (and
// their string forms) or the gateway's ack names.
func ParseMessageStatus(v any) MessageStatus {
	switch typed := v.(type) {
	case float64:
		return statusFromCode(int(typed))
	case int:
		return statusFromCode(typed)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(typed)); err == nil {
			return statusFromCode(n)
		}
		switch strings.ToUpper(strings.TrimSpace(typed)) {
		case "ERROR":
			return StatusError
		case "PENDING":
			return StatusPending
		case "SERVER_ACK":
			return StatusSent
		case "DELIVERY_ACK":
			return StatusDelivered
		case "READ":
			return StatusRead
		case "PLAYED":
			return StatusPlayed
		}
	}
	return StatusUnknown
}

func statusFromCode(code int) MessageStatus {
	switch code {
	case 0:
		return StatusError
	case 1:
		return StatusPending
	case 2:
		return StatusSent
	case 3:
		return StatusDelivered
	case 4:
		return StatusRead
	case 5:
		return StatusPlayed
	}
	return StatusUnknown
}

// ConnectionState is the normalized instance connection state.
type ConnectionState string

const (
	StateConnected    ConnectionState = "CONNECTED"
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateRefused      ConnectionState = "REFUSED"
	StateUnknown      ConnectionState = "UNKNOWN"
)

// ParseConnectionState maps the gateway's state strings onto the closed
// vocabulary ("open" means connected).
func ParseConnectionState(raw string) ConnectionState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "connected":
		return StateConnected
	case "close", "closed", "disconnected":
		return StateDisconnected
	case "connecting":
		return StateConnecting
	case "refused":
		return StateRefused
	}
	return StateUnknown
}
