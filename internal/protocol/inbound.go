package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cory-johannsen/strangers/internal/lobby"
)

// Inbound event names.
const (
	EventLogin              = "login"
	EventJoinPair           = "join_pair"
	EventJoinQueue          = "join_queue"
	EventJoinGroup          = "join_group"
	EventJoinChat           = "join_chat"
	EventLeave              = "leave"
	EventSendMessage        = "send_message"
	EventTyping             = "typing"
	EventStopTyping         = "stop_typing"
	EventWebRTCOffer        = "webrtc_offer"
	EventWebRTCAnswer       = "webrtc_answer"
	EventWebRTCIceCandidate = "webrtc_ice_candidate"
)

// Event is one decoded client request. The concrete types below are the
// only implementations.
type Event interface {
	EventName() string
}

// Login sets the connection's display name and age.
type Login struct {
	Name string
	Age  *int
}

// JoinPair asks for a one-on-one partner.
type JoinPair struct{}

// JoinGroup asks to enter the group room of a region. An empty region
// means the global room.
type JoinGroup struct {
	Region string
}

// ChatMode selects the conversation type requested by JoinChat.
type ChatMode string

const (
	ChatModePair  ChatMode = "1on1"
	ChatModeGroup ChatMode = "group"
)

// JoinChat logs in and joins in a single request.
type JoinChat struct {
	Login
	Mode   ChatMode
	Region string
}

// Leave ends the current conversation and returns to idle.
type Leave struct{}

// SendMessage relays text or an opaque audio payload to the session.
type SendMessage struct {
	Text  string
	Audio []byte
}

// Typing reports the sender's typing state to a pair partner.
type Typing struct {
	Active bool
}

// SignalKind is the WebRTC signaling message type.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalIceCandidate SignalKind = "ice-candidate"
)

// Valid reports whether k is a known signaling type.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalIceCandidate:
		return true
	}
	return false
}

// Signal forwards a WebRTC signaling payload to a pair partner.
type Signal struct {
	Kind SignalKind
	Data json.RawMessage
}

func (Login) EventName() string       { return EventLogin }
func (JoinPair) EventName() string    { return EventJoinPair }
func (JoinGroup) EventName() string   { return EventJoinGroup }
func (JoinChat) EventName() string    { return EventJoinChat }
func (Leave) EventName() string       { return EventLeave }
func (SendMessage) EventName() string { return EventSendMessage }
func (Signal) EventName() string      { return EventSignal }

func (t Typing) EventName() string {
	if t.Active {
		return EventTyping
	}
	return EventStopTyping
}

type wireLogin struct {
	Name *string        `json:"name"`
	Age  flexibleNumber `json:"age"`
}

type wireJoinChat struct {
	wireLogin
	Mode   string `json:"mode"`
	Region string `json:"region"`
}

type wireSignal struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one raw client frame into a typed Event.
//
// Postcondition: Returns a *lobby.ValidationError for malformed JSON,
// unknown event names and fields of the wrong type.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, lobby.Invalid("", "frame is not a JSON envelope")
	}
	name := strings.TrimSpace(env.Event)
	if name == "" {
		return nil, lobby.Invalid("event", "missing event name")
	}

	switch name {
	case EventLogin:
		var w wireLogin
		if err := decodeData(env.Data, &w); err != nil {
			return nil, err
		}
		return w.event()
	case EventJoinPair, EventJoinQueue:
		return JoinPair{}, nil
	case EventJoinGroup:
		var w struct {
			Region string `json:"region"`
		}
		if err := decodeData(env.Data, &w); err != nil {
			return nil, err
		}
		return JoinGroup{Region: strings.TrimSpace(w.Region)}, nil
	case EventJoinChat:
		var w wireJoinChat
		if err := decodeData(env.Data, &w); err != nil {
			return nil, err
		}
		login, err := w.wireLogin.event()
		if err != nil {
			return nil, err
		}
		mode := ChatMode(strings.ToLower(strings.TrimSpace(w.Mode)))
		switch mode {
		case "", "pair", ChatModePair:
			mode = ChatModePair
		case ChatModeGroup:
		default:
			return nil, lobby.Invalid("mode", "must be 1on1 or group")
		}
		return JoinChat{Login: login, Mode: mode, Region: strings.TrimSpace(w.Region)}, nil
	case EventLeave:
		return Leave{}, nil
	case EventSendMessage:
		var w struct {
			Text  string `json:"text"`
			Audio []byte `json:"audio"`
		}
		if err := decodeData(env.Data, &w); err != nil {
			return nil, err
		}
		if w.Text == "" && len(w.Audio) == 0 {
			return nil, lobby.Invalid("message", "must carry text or audio")
		}
		return SendMessage{Text: w.Text, Audio: w.Audio}, nil
	case EventTyping:
		return Typing{Active: true}, nil
	case EventStopTyping:
		return Typing{Active: false}, nil
	case EventSignal:
		var w wireSignal
		if err := decodeData(env.Data, &w); err != nil {
			return nil, err
		}
		return signalEvent(SignalKind(w.Type), w.Data)
	case EventWebRTCOffer:
		return signalAlias(env.Data, SignalOffer)
	case EventWebRTCAnswer:
		return signalAlias(env.Data, SignalAnswer)
	case EventWebRTCIceCandidate:
		return signalAlias(env.Data, SignalIceCandidate)
	default:
		return nil, lobby.Invalid("event", "unknown event "+strconv.Quote(name))
	}
}

func (w wireLogin) event() (Login, error) {
	if w.Name == nil {
		return Login{}, lobby.Invalid("name", "is required")
	}
	return Login{Name: *w.Name, Age: w.Age.value}, nil
}

func signalAlias(data json.RawMessage, kind SignalKind) (Event, error) {
	var w wireSignal
	if err := decodeData(data, &w); err != nil {
		return nil, err
	}
	return signalEvent(kind, w.Data)
}

func signalEvent(kind SignalKind, data json.RawMessage) (Event, error) {
	if !kind.Valid() {
		return nil, lobby.Invalid("type", "must be offer, answer or ice-candidate")
	}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, lobby.Invalid("data", "signal payload is required")
	}
	return Signal{Kind: kind, Data: data}, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		if lobby.IsValidation(err) {
			return err
		}
		return lobby.Invalid("data", err.Error())
	}
	return nil
}

// flexibleNumber accepts an integer sent either as a JSON number or as a
// numeric string.
type flexibleNumber struct {
	value *int
}

func (n *flexibleNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
		if s == "" {
			return nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return lobby.Invalid("age", "must be a whole number")
	}
	n.value = &v
	return nil
}
