package libim

// PassiveKeepAliveHandler inspects control frames coming from the server. It returns true when the
// frame was consumed and must not be dispatched further.
type PassiveKeepAliveHandler func(c Connection, m Message) bool

// KeepAliveHandlerReplyPingWithPong answers websocket ping frames and swallows pong frames.
func KeepAliveHandlerReplyPingWithPong(c Connection, m Message) bool {
	switch t := m.Type(); {
	case t.IsPing():
		_ = c.Write(NewPongMessage(m.Data()))
		return true
	case t.IsPong():
		return true
	}
	return false
}
