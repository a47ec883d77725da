package libim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEventKinds(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		kind     EventKind
		typ      string
		wantData string
	}{
		{name: "ack", raw: `{"type":"pong"}`, kind: EventKindHeartbeatAck, typ: HeartbeatAckType},
		{name: "domain", raw: ` {"type":"msg","data":{"id":"1"}} `, kind: EventKindDomain, typ: "msg", wantData: `{"id":"1"}`},
		{name: "untagged", raw: `{"hello":"world"}`, kind: EventKindUnknown},
		{name: "ping from server", raw: `{"type":"ping"}`, kind: EventKindDomain, typ: HeartbeatType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.typ, ev.Type)
			assert.Equal(t, tt.wantData, string(ev.Data))
			assert.JSONEq(t, tt.raw, string(ev.Raw))
		})
	}
}

func TestDecodeEventRejectsNonObjects(t *testing.T) {
	for _, raw := range []string{"", "   ", "pong", `["type","pong"]`, `"pong"`, `{"type":`, `{"type":1}`} {
		_, err := DecodeEvent([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestEventMsg(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{
		"type": "msg",
		"data": {
			"id": "m-7",
			"conversation_id": 42,
			"sender_id": 9,
			"msg_type": 2,
			"content": "",
			"payload": [{"mime_type": "audio/ogg", "url": "https://cdn.test/a.ogg", "duration": 3.5}],
			"seq": 100,
			"created_at": "2024-05-01T10:00:00Z"
		}
	}`))
	require.NoError(t, err)

	msg, err := ev.Msg()
	require.NoError(t, err)
	assert.Equal(t, "m-7", msg.ID)
	assert.Equal(t, int64(42), msg.ConversationID)
	assert.Equal(t, MsgTypeAudio, msg.MsgType)
	require.Len(t, msg.Payload, 1)
	assert.Equal(t, 3.5, msg.Payload[0].Duration)
	assert.False(t, msg.IsRecall())
}

func TestEventDecodeFallsBackToRaw(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"recall","id":"m-1","msg_type":3}`))
	require.NoError(t, err)

	msg, err := ev.Msg()
	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.ID)
	assert.True(t, msg.IsRecall())

	var wrong struct {
		ID int `json:"id"`
	}
	assert.Error(t, ev.Decode(&wrong))
}

func TestNewJSONMessage(t *testing.T) {
	msg, err := NewJSONMessage(map[string]string{"type": "typing"})
	require.NoError(t, err)
	assert.Equal(t, DataMessage, msg.Type())
	assert.JSONEq(t, `{"type":"typing"}`, string(msg.Data()))

	_, err = NewJSONMessage(func() {})
	assert.Error(t, err)
}
