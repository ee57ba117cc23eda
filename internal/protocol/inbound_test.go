package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/strangers/internal/lobby"
)

func TestDecode_Login(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"login","data":{"name":"Alice","age":30}}`))
	require.NoError(t, err)
	login, ok := ev.(Login)
	require.True(t, ok)
	assert.Equal(t, "Alice", login.Name)
	require.NotNil(t, login.Age)
	assert.Equal(t, 30, *login.Age)
}

func TestDecode_LoginAgeAsString(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"login","data":{"name":"Bob","age":"42"}}`))
	require.NoError(t, err)
	login := ev.(Login)
	require.NotNil(t, login.Age)
	assert.Equal(t, 42, *login.Age)
}

func TestDecode_LoginMissingAge(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"login","data":{"name":"Bob"}}`))
	require.NoError(t, err)
	assert.Nil(t, ev.(Login).Age)
}

func TestDecode_LoginMissingName(t *testing.T) {
	_, err := Decode([]byte(`{"event":"login","data":{"age":20}}`))
	require.Error(t, err)
	assert.True(t, lobby.IsValidation(err))
}

func TestDecode_LoginBadAge(t *testing.T) {
	_, err := Decode([]byte(`{"event":"login","data":{"name":"Bob","age":"old"}}`))
	require.Error(t, err)
	assert.True(t, lobby.IsValidation(err))
}

func TestDecode_JoinAliases(t *testing.T) {
	for _, raw := range []string{`{"event":"join_pair"}`, `{"event":"join_queue","data":{}}`} {
		ev, err := Decode([]byte(raw))
		require.NoError(t, err)
		assert.IsType(t, JoinPair{}, ev)
	}
}

func TestDecode_JoinGroup(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"join_group","data":{"region":" europe "}}`))
	require.NoError(t, err)
	assert.Equal(t, JoinGroup{Region: "europe"}, ev)
}

func TestDecode_JoinChat(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"join_chat","data":{"name":"Ann","age":19,"mode":"group","region":"asia"}}`))
	require.NoError(t, err)
	jc := ev.(JoinChat)
	assert.Equal(t, "Ann", jc.Name)
	assert.Equal(t, ChatModeGroup, jc.Mode)
	assert.Equal(t, "asia", jc.Region)

	ev, err = Decode([]byte(`{"event":"join_chat","data":{"name":"Ann","age":19}}`))
	require.NoError(t, err)
	assert.Equal(t, ChatModePair, ev.(JoinChat).Mode)

	_, err = Decode([]byte(`{"event":"join_chat","data":{"name":"Ann","age":19,"mode":"trio"}}`))
	assert.True(t, lobby.IsValidation(err))
}

func TestDecode_SendMessage(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"send_message","data":{"text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, SendMessage{Text: "hi"}, ev)

	ev, err = Decode([]byte(`{"event":"send_message","data":{"audio":"AAEC"}}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, ev.(SendMessage).Audio)

	_, err = Decode([]byte(`{"event":"send_message","data":{}}`))
	assert.True(t, lobby.IsValidation(err))
}

func TestDecode_Typing(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"typing"}`))
	require.NoError(t, err)
	assert.Equal(t, Typing{Active: true}, ev)
	assert.Equal(t, EventTyping, ev.EventName())

	ev, err = Decode([]byte(`{"event":"stop_typing"}`))
	require.NoError(t, err)
	assert.Equal(t, EventStopTyping, ev.EventName())
}

func TestDecode_Signal(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"signal","data":{"type":"offer","data":{"sdp":"v=0"}}}`))
	require.NoError(t, err)
	sig := ev.(Signal)
	assert.Equal(t, SignalOffer, sig.Kind)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(sig.Data))

	ev, err = Decode([]byte(`{"event":"webrtc_ice_candidate","data":{"data":{"candidate":"c"}}}`))
	require.NoError(t, err)
	assert.Equal(t, SignalIceCandidate, ev.(Signal).Kind)

	_, err = Decode([]byte(`{"event":"signal","data":{"type":"hangup","data":{}}}`))
	assert.True(t, lobby.IsValidation(err))

	_, err = Decode([]byte(`{"event":"webrtc_answer","data":{}}`))
	assert.True(t, lobby.IsValidation(err))
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `hello`,
		"no event":        `{"data":{}}`,
		"unknown event":   `{"event":"teleport"}`,
		"data not object": `{"event":"join_group","data":"europe"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.Error(t, err)
			assert.True(t, lobby.IsValidation(err))
		})
	}
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(EventMatched, Matched{Room: "pair_1", Partner: "Bob", IsCaller: true})
	require.NoError(t, err)
	raw, err := env.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"p2p_matched","data":{"room":"pair_1","partner":"Bob","isCaller":true,"message":""}}`, string(raw))

	var back Matched
	require.NoError(t, env.DecodeData(&back))
	assert.Equal(t, "Bob", back.Partner)
}

func TestNewEnvelope_EmptyPayload(t *testing.T) {
	env, err := NewEnvelope(EventLeft, Empty{})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{}`), env.Data)
}

func TestPropertyDecodeNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		event := rapid.SampledFrom([]string{
			EventLogin, EventJoinPair, EventJoinGroup, EventJoinChat, EventSendMessage,
			EventSignal, EventWebRTCOffer, "bogus",
		}).Draw(t, "event")
		data := rapid.SampledFrom([]string{
			`{}`, `null`, `[]`, `"x"`, `{"name":1}`, `{"type":"offer"}`, `{"text":""}`,
		}).Draw(t, "data")
		ev, err := Decode([]byte(`{"event":"` + event + `","data":` + data + `}`))
		if err == nil && ev == nil {
			t.Fatalf("nil event without error for %s %s", event, data)
		}
		if err != nil && !lobby.IsValidation(err) {
			t.Fatalf("non-validation error %v", err)
		}
	})
}
