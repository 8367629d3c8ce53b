// Package control maps chat commands onto analyzer operations and composes
// alert messages. It is transport independent: handlers return Replies that
// a chat transport renders.
package control

import (
	"regexp"
	"strings"
)

// Command enumerates the control commands.
type Command int

// Known commands. CommandUnknown is any other /word.
const (
	CommandUnknown Command = iota
	CommandPing
	CommandListen
	CommandPlot
	CommandThreshold
	CommandReset
	CommandStatus
)

var commandNames = map[string]Command{
	"ping":      CommandPing,
	"listen":    CommandListen,
	"plot":      CommandPlot,
	"threshold": CommandThreshold,
	"reset":     CommandReset,
	"status":    CommandStatus,
}

// String returns the command word.
func (c Command) String() string {
	for name, cmd := range commandNames {
		if cmd == c {
			return name
		}
	}
	return "unknown"
}

// commandPattern matches "/word" with an optional "@botname" suffix.
var commandPattern = regexp.MustCompile(`^/([a-z]+)(@\S+)?`)

// Request is a parsed command line.
type Request struct {
	Command Command
	Word    string // The command word as typed, without the slash
	Arg     string // Remaining text, trimmed
}

// Parse extracts a command from a chat message. ok is false when the text
// does not start with a command.
func Parse(text string) (req Request, ok bool) {
	text = strings.TrimSpace(text)
	m := commandPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return Request{}, false
	}
	word := text[m[2]:m[3]]
	cmd, known := commandNames[word]
	if !known {
		cmd = CommandUnknown
	}
	return Request{
		Command: cmd,
		Word:    word,
		Arg:     strings.TrimSpace(text[m[1]:]),
	}, true
}
