package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/cory-johannsen/strangers/internal/protocol"
)

// Terminal command names.
const (
	CmdLogin   = "login"
	CmdPair    = "pair"
	CmdGroup   = "group"
	CmdLeave   = "leave"
	CmdWho     = "who"
	CmdRegions = "regions"
	CmdHelp    = "help"
	CmdQuit    = "quit"
)

var aliases = map[string]string{
	"login":   CmdLogin,
	"nick":    CmdLogin,
	"pair":    CmdPair,
	"next":    CmdPair,
	"group":   CmdGroup,
	"join":    CmdGroup,
	"leave":   CmdLeave,
	"stop":    CmdLeave,
	"who":     CmdWho,
	"regions": CmdRegions,
	"rooms":   CmdRegions,
	"help":    CmdHelp,
	"?":       CmdHelp,
	"quit":    CmdQuit,
	"exit":    CmdQuit,
}

// Command is one parsed line of terminal input. A line that is not a slash
// command is a chat message: Name is empty and Text holds the message.
type Command struct {
	Name string
	Args []string
	Text string
}

// ParseCommand splits a line into a command and its arguments. A leading
// "//" escapes a message that starts with a slash.
//
// Postcondition: Returns an error naming the command when it is unknown.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "//") {
		return Command{Text: line[1:]}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Text: line}, nil
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return Command{}, errors.New("empty command, type /help")
	}
	name, ok := aliases[strings.ToLower(fields[0])]
	if !ok {
		return Command{}, errors.New("unknown command /" + fields[0] + ", type /help")
	}
	return Command{Name: name, Args: fields[1:]}, nil
}

// Event converts a command that maps onto a chat event.
//
// Postcondition: Returns a nil event and nil error for commands handled
// locally by the terminal, and for empty messages.
func (c Command) Event() (protocol.Event, error) {
	switch c.Name {
	case "":
		if c.Text == "" {
			return nil, nil
		}
		return protocol.SendMessage{Text: c.Text}, nil
	case CmdLogin:
		return loginEvent(c.Args)
	case CmdPair:
		return protocol.JoinPair{}, nil
	case CmdGroup:
		region := ""
		if len(c.Args) > 0 {
			region = c.Args[0]
		}
		return protocol.JoinGroup{Region: region}, nil
	case CmdLeave:
		return protocol.Leave{}, nil
	}
	return nil, nil
}

// loginEvent reads "<name words...> <age>"; the last argument is the age.
func loginEvent(args []string) (protocol.Event, error) {
	if len(args) < 2 {
		return nil, errors.New("usage: /login <name> <age>")
	}
	age, err := strconv.Atoi(args[len(args)-1])
	if err != nil {
		return nil, errors.New("usage: /login <name> <age>, age must be a whole number")
	}
	return protocol.Login{Name: strings.Join(args[:len(args)-1], " "), Age: &age}, nil
}
