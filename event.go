package libim

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	// HeartbeatType is the frame type the client sends as keepalive.
	HeartbeatType = "ping"
	// HeartbeatAckType is the server's reply to a keepalive. It never reaches subscribers.
	HeartbeatAckType = "pong"
)

// EventKind tags inbound channel frames.
type EventKind uint8

const (
	// EventKindUnknown is a well-formed JSON frame without a type tag.
	EventKindUnknown EventKind = iota
	EventKindHeartbeatAck
	EventKindDomain
)

func (k EventKind) String() string {
	switch k {
	case EventKindHeartbeatAck:
		return "heartbeat_ack"
	case EventKindDomain:
		return "domain"
	}
	return "unknown"
}

// Event is an inbound channel frame decoded once at the transport boundary.
type Event struct {
	Kind EventKind
	Type string
	// Data is the "data" member of the frame, if any.
	Data json.RawMessage
	// Raw is the full frame as received.
	Raw json.RawMessage
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeEvent parses one inbound text frame.
func DecodeEvent(raw []byte) (Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, errors.Errorf("inbound frame is not a JSON object: %.64q", raw)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Event{}, errors.Wrap(err, "cannot decode inbound frame")
	}

	ev := Event{
		Type: env.Type,
		Data: env.Data,
		Raw:  append(json.RawMessage(nil), trimmed...),
	}

	switch env.Type {
	case "":
		ev.Kind = EventKindUnknown
	case HeartbeatAckType:
		ev.Kind = EventKindHeartbeatAck
	default:
		ev.Kind = EventKindDomain
	}

	return ev, nil
}

// Decode unmarshals the event payload into v. Frames without a "data" member decode from the whole frame.
func (e Event) Decode(v any) error {
	src := e.Data
	if len(src) == 0 || bytes.Equal(src, []byte("null")) {
		src = e.Raw
	}
	if err := json.Unmarshal(src, v); err != nil {
		return errors.Wrapf(err, "cannot decode %s event", e.Kind)
	}
	return nil
}

// Msg decodes the event as an instant message.
func (e Event) Msg() (MsgItem, error) {
	var m MsgItem
	err := e.Decode(&m)
	return m, err
}

// MsgType is the backend message type.
type MsgType int

const (
	MsgTypeNormal MsgType = 1
	MsgTypeAudio  MsgType = 2
	MsgTypeRecall MsgType = 3
)

type MsgPayload struct {
	MimeType string  `json:"mime_type"`
	URL      string  `json:"url"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// MsgItem is a single instant message as delivered on the channel.
type MsgItem struct {
	ID             string       `json:"id"`
	ConversationID int64        `json:"conversation_id"`
	SenderID       int64        `json:"sender_id"`
	MsgType        MsgType      `json:"msg_type"`
	Content        string       `json:"content"`
	Payload        []MsgPayload `json:"payload"`
	Seq            int64        `json:"seq"`
	CreatedAt      string       `json:"created_at"`
}

// IsRecall reports whether the message withdraws an earlier one.
func (m MsgItem) IsRecall() bool { return m.MsgType == MsgTypeRecall }
