package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cory-johannsen/strangers/internal/frontend/telnet"
	"github.com/cory-johannsen/strangers/internal/protocol"
	"github.com/cory-johannsen/strangers/internal/regions"
)

// RenderEnvelope formats an outbound event as colored terminal text.
//
// Postcondition: Returns "" for events a terminal does not display, such as
// WebRTC signaling and stop-typing notices.
func RenderEnvelope(env protocol.Envelope) string {
	switch env.Event {
	case protocol.EventLoginSuccess:
		var p protocol.LoginSuccess
		if decode(env, &p) {
			return telnet.Colorf(telnet.Green, "Welcome, %s. Type /pair for a stranger or /group to join a room.", p.Name)
		}
	case protocol.EventLoginError:
		var p protocol.Notice
		if decode(env, &p) {
			return telnet.Colorf(telnet.Red, "Login failed: %s", p.Message)
		}
	case protocol.EventWaiting, protocol.EventUserDisconnected:
		var p protocol.Notice
		if decode(env, &p) {
			return telnet.Colorize(telnet.Yellow, p.Message)
		}
	case protocol.EventPeerGone:
		var p protocol.Notice
		if decode(env, &p) {
			return telnet.Colorize(telnet.Red, p.Message)
		}
	case protocol.EventMatched:
		var p protocol.Matched
		if decode(env, &p) {
			return telnet.Colorf(telnet.BrightGreen, "%s You are talking to %s.", p.Message, p.Partner)
		}
	case protocol.EventGroupJoined:
		var p protocol.GroupJoined
		if decode(env, &p) {
			return telnet.Colorf(telnet.BrightGreen, "You joined the %s room.", p.Region)
		}
	case protocol.EventUserJoined:
		var p protocol.Presence
		if decode(env, &p) {
			return telnet.Colorf(telnet.Cyan, "%s joined.", p.User)
		}
	case protocol.EventUserLeft:
		var p protocol.Presence
		if decode(env, &p) {
			return telnet.Colorf(telnet.Cyan, "%s left.", p.User)
		}
	case protocol.EventRoomCount:
		var p protocol.RoomCount
		if decode(env, &p) {
			return telnet.Colorf(telnet.Dim, "%s in the room.", people(p.Count))
		}
	case protocol.EventMessage:
		var p protocol.ChatMessage
		if decode(env, &p) {
			return RenderMessage(p)
		}
	case protocol.EventStrangerTyping:
		var p protocol.TypingNotice
		if decode(env, &p) {
			return telnet.Colorf(telnet.Dim, "%s is typing...", p.User)
		}
	case protocol.EventLeft:
		return telnet.Colorize(telnet.Yellow, "You left the conversation.")
	case protocol.EventServerStats:
		var p protocol.ServerStats
		if decode(env, &p) {
			return telnet.Colorf(telnet.Dim, "%d online.", p.Count)
		}
	case protocol.EventError:
		var p protocol.ErrorNotice
		if decode(env, &p) {
			return telnet.Colorize(telnet.Red, p.Message)
		}
	}
	return ""
}

// RenderMessage formats a relayed chat message with its timestamp.
func RenderMessage(m protocol.ChatMessage) string {
	var b strings.Builder
	b.WriteString(telnet.Colorf(telnet.Dim, "[%s] ", m.Timestamp))
	if m.IsSelf {
		b.WriteString(telnet.Colorize(telnet.BrightCyan, "you"))
	} else {
		b.WriteString(telnet.Colorize(telnet.BrightYellow, m.User))
	}
	b.WriteString(": ")
	switch {
	case m.Text != "":
		b.WriteString(telnet.Colorize(telnet.BrightWhite, m.Text))
	case len(m.Audio) > 0:
		b.WriteString(telnet.Colorf(telnet.Magenta, "(voice message, %d bytes)", len(m.Audio)))
	}
	return b.String()
}

// RenderRegions lists the joinable group rooms.
func RenderRegions(all []*regions.Region) string {
	var b strings.Builder
	b.WriteString(telnet.Colorize(telnet.BrightWhite, "Rooms:"))
	for _, r := range all {
		b.WriteString("\r\n")
		b.WriteString(fmt.Sprintf("  %s%-12s%s %s", telnet.BrightCyan, r.ID, telnet.Reset, r.DisplayName()))
		if r.Description != "" {
			b.WriteString(telnet.Colorf(telnet.Dim, " - %s", r.Description))
		}
	}
	return b.String()
}

// RenderRoster lists who shares the caller's conversation.
func RenderRoster(room string, names []string) string {
	if room == "" {
		return telnet.Colorize(telnet.Yellow, "You are not in a conversation.")
	}
	return telnet.Colorf(telnet.Green, "With you (%d): %s", len(names), strings.Join(names, ", "))
}

func decode(env protocol.Envelope, v any) bool {
	return len(env.Data) > 0 && json.Unmarshal(env.Data, v) == nil
}

func people(n int) string {
	if n == 1 {
		return "1 person"
	}
	return fmt.Sprintf("%d people", n)
}
