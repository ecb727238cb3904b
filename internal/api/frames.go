// ABOUTME: Frame types exchanged over the WebSocket push channel
// ABOUTME: One JSON object per WebSocket text message, discriminated by Type

package api

// Client frame types
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSend        = "send"
	FramePing        = "ping"
)

// Server frame types
const (
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameMessage      = "message"
	FrameAck          = "ack"
	FrameError        = "error"
	FramePong         = "pong"
)

// ClientFrame is sent by clients. Ref is echoed on the matching reply.
type ClientFrame struct {
	Type           string   `json:"type" validate:"required,oneof=subscribe unsubscribe send ping"`
	Ref            string   `json:"ref,omitempty" validate:"omitempty,max=128"`
	Topic          string   `json:"topic,omitempty" validate:"required_if=Type subscribe,required_if=Type unsubscribe,omitempty,max=64"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Participants   []string `json:"participants,omitempty" validate:"omitempty,max=64,dive,required,max=256"`
	Body           string   `json:"body,omitempty" validate:"required_if=Type send"`
	ClientMsgID    string   `json:"client_msg_id,omitempty" validate:"omitempty,max=128"`
}

// ServerFrame is sent by the gateway.
type ServerFrame struct {
	Type    string   `json:"type"`
	Ref     string   `json:"ref,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	Message *Message `json:"message,omitempty"`
	Code    string   `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
}
