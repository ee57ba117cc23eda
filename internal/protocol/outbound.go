package protocol

import "encoding/json"

// Outbound event names.
const (
	EventLoginSuccess          = "login_success"
	EventLoginError            = "login_error"
	EventWaiting               = "p2p_waiting"
	EventMatched               = "p2p_matched"
	EventGroupJoined           = "group_joined"
	EventUserJoined            = "user_joined"
	EventUserLeft              = "user_left"
	EventRoomCount             = "room_count"
	EventMessage               = "message"
	EventStrangerTyping        = "stranger_typing"
	EventStrangerStoppedTyping = "stranger_stopped_typing"
	EventSignal                = "signal"
	EventPeerGone              = "peer_gone"
	EventUserDisconnected      = "user_disconnected"
	EventLeft                  = "left"
	EventServerStats           = "server_stats"
	EventError                 = "error"
)

// Error codes carried by the error event.
const (
	CodeInvalidEvent  = "invalid_event"
	CodeLoginRequired = "login_required"
	CodeInternal      = "internal"
	CodeRateLimited   = "rate_limited"
)

// LoginSuccess acknowledges a login.
type LoginSuccess struct {
	Name string `json:"name"`
}

// Notice carries a single human-readable message. It is the payload of
// login_error, p2p_waiting, peer_gone and user_disconnected.
type Notice struct {
	Message string `json:"message"`
}

// Matched tells a member of a new pair session who its partner is.
// Exactly one of the two members has IsCaller set.
type Matched struct {
	Room     string `json:"room"`
	Partner  string `json:"partner"`
	IsCaller bool   `json:"isCaller"`
	Message  string `json:"message"`
}

// GroupJoined acknowledges entry into a group room.
type GroupJoined struct {
	Region string `json:"region"`
	Room   string `json:"room"`
}

// Presence announces a member entering or leaving a group room.
type Presence struct {
	User string `json:"user"`
	Room string `json:"room"`
}

// RoomCount is the member count of a group room.
type RoomCount struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

// ChatMessage is a relayed text or audio message.
type ChatMessage struct {
	Text      string `json:"text,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
	User      string `json:"user"`
	IsSelf    bool   `json:"isSelf"`
	Timestamp string `json:"timestamp"`
}

// TypingNotice reports a partner's typing state.
type TypingNotice struct {
	User string `json:"user"`
}

// SignalRelay forwards a WebRTC signaling payload verbatim.
type SignalRelay struct {
	Type SignalKind      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Empty is the payload of events without data.
type Empty struct{}

// ServerStats is the presence count broadcast to every connection.
type ServerStats struct {
	Count int `json:"count"`
}

// ErrorNotice reports a rejected request to the offending connection only.
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
