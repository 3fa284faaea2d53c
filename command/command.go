// Package command implements the line-oriented `id:command:arg` surface
// shared by the USB and HMI-serial transports. A Router parses each
// line, resolves id to a channel, and dispatches command through a
// lookup table of small typed handlers, each a thin wrapper around one
// of the channel's getters/setters — the member-function-pointer
// dispatch table recast as a Go map, per this codebase's HTTP route
// table convention (a name maps to a handler, nothing more).
package command

import (
	"strings"
)

const (
	errUnknownCommand = "Unknown command"
	errMalformed      = "Malformed command. Format: id:command:value_or_?"
	errInvalidDevice  = "Invalid device ID"
)

// get is the literal argument meaning "read, do not write".
const get = "?"

// Handler implements one command: given the resolved channel and the
// argument text (get or a value to set), it returns the success body
// or an error whose message becomes the response body after the
// "ERROR " prefix.
type Handler func(ch Channel, arg string) (string, error)

// Router owns the channel set and the command table, and turns raw
// lines into response lines.
type Router struct {
	channels []Channel
	table    Table
}

// NewRouter builds a Router over channels (indexed by their position,
// matching the single decimal digit the wire protocol uses to select
// one) using the default command table.
func NewRouter(channels []Channel) *Router {
	return &Router{channels: channels, table: DefaultTable()}
}

// Route parses and dispatches one line, returning the response body
// with no trailing terminator (the transport layer owns framing).
func (r *Router) Route(line string) string {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return "ERROR " + errMalformed
	}
	idText, cmd, arg := parts[0], parts[1], parts[2]

	if len(idText) != 1 || idText[0] < '0' || idText[0] > '9' {
		return "ERROR " + errInvalidDevice
	}
	id := int(idText[0] - '0')
	if id < 0 || id >= len(r.channels) {
		return "ERROR " + errInvalidDevice
	}

	handler, ok := r.table[cmd]
	if !ok {
		return "ERROR " + errUnknownCommand
	}

	body, err := handler(r.channels[id], arg)
	if err != nil {
		return "ERROR " + err.Error()
	}
	return body
}
