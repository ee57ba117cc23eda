package chatserver

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cory-johannsen/strangers/internal/lobby"
)

func (c *Controller) validateProfile(name string, age *int) (string, int, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", 0, lobby.Invalid("name", "please enter a name")
	}
	if n := utf8.RuneCountInString(name); n > c.opts.MaxNameLength {
		return "", 0, lobby.Invalid("name", fmt.Sprintf("must be at most %d characters", c.opts.MaxNameLength))
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' && r != '_' && r != '-' {
			return "", 0, lobby.Invalid("name", "may only contain letters, digits, spaces, _ and -")
		}
	}
	if age == nil {
		return "", 0, lobby.Invalid("age", "please enter your age")
	}
	if *age < c.opts.MinAge || *age > c.opts.MaxAge {
		return "", 0, lobby.Invalid("age", fmt.Sprintf("must be between %d and %d", c.opts.MinAge, c.opts.MaxAge))
	}
	return name, *age, nil
}

func (c *Controller) validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if !utf8.ValidString(text) {
		return "", lobby.Invalid("text", "must be valid UTF-8")
	}
	if utf8.RuneCountInString(text) > c.opts.MaxTextLength {
		return "", lobby.Invalid("text", fmt.Sprintf("must be at most %d characters", c.opts.MaxTextLength))
	}
	return text, nil
}

func (c *Controller) validateAudio(audio []byte) error {
	if len(audio) > c.opts.MaxAudioBytes {
		return lobby.Invalid("audio", fmt.Sprintf("must be at most %d bytes", c.opts.MaxAudioBytes))
	}
	return nil
}

func isProfileField(ve *lobby.ValidationError) bool {
	return ve.Field == "name" || ve.Field == "age"
}
