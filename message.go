package libim

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// MessageType mirrors websocket opcodes so frames can travel through the transport untouched.
type MessageType byte

const (
	DataMessage   MessageType = 1
	BinaryMessage MessageType = 2
	CloseMessage  MessageType = 8
	PingMessage   MessageType = 9
	PongMessage   MessageType = 10
)

func (t MessageType) Is(other MessageType) bool { return t == other }

func (t MessageType) IsData() bool { return t.Is(DataMessage) }

func (t MessageType) IsPing() bool { return t.Is(PingMessage) }

func (t MessageType) IsPong() bool { return t.Is(PongMessage) }

func (t MessageType) IsClose() bool { return t.Is(CloseMessage) }

func (t MessageType) String() string {
	switch t {
	case DataMessage:
		return "DATA"
	case BinaryMessage:
		return "BIN"
	case CloseMessage:
		return "CLOSE"
	case PingMessage:
		return "PING"
	case PongMessage:
		return "PONG"
	}
	return fmt.Sprintf("MessageType(%d)", byte(t))
}

// Message is a single transport frame.
type Message interface {
	Type() MessageType
	Data() []byte
	String() string
}

type ErrorMessage interface {
	Message
	Error() string
}

type message struct {
	MessageType MessageType
	MessageData []byte
}

func (m message) Type() MessageType { return m.MessageType }

func (m message) Data() []byte { return m.MessageData }

func (m message) String() string {
	return fmt.Sprintf("Message{type=%s,data=%s}", m.MessageType, m.MessageData)
}

type closeMessage struct {
	message
	Code int
}

func (m closeMessage) String() string {
	return fmt.Sprintf("Message{type=%s,code=%d,data=%s}", m.message.Type(), m.Code, m.message.Data())
}

func (m closeMessage) Error() string {
	return m.String()
}

func NewMessage(mt MessageType, data []byte) Message {
	return message{MessageType: mt, MessageData: data}
}

func NewDataMessage(data []byte) Message {
	return NewMessage(DataMessage, data)
}

// NewJSONMessage encodes v as a text frame.
func NewJSONMessage(v any) (Message, error) {
	bts, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode outbound frame")
	}
	return NewDataMessage(bts), nil
}

func NewBinaryMessage(data []byte) Message {
	return NewMessage(BinaryMessage, data)
}

func NewPingMessage(data []byte) Message {
	return NewMessage(PingMessage, data)
}

func NewPongMessage(data []byte) Message {
	return NewMessage(PongMessage, data)
}

func NewCloseMessage(code int, data []byte) ErrorMessage {
	return closeMessage{
		message: message{MessageType: CloseMessage, MessageData: data},
		Code:    code,
	}
}
