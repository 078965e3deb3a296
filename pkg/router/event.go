// Package router implements the dispatch pipeline: event validation, command
// parsing, lookup and authorization, backend dispatch, string matching,
// reputation, and event-triggered module fan-out.
package router

import (
	"errors"
	"fmt"
	"strings"
)

// InboundEvent is the payload collectors POST to /router/events.
type InboundEvent struct {
	Platform       string         `json:"platform" validate:"required"`
	ServerID       string         `json:"server_id" validate:"required"`
	ChannelID      string         `json:"channel_id"`
	UserID         string         `json:"user_id" validate:"required"`
	UserName       string         `json:"user_name" validate:"required"`
	MessageID      string         `json:"message_id"`
	MessageContent string         `json:"message_content" validate:"required"`
	MessageType    string         `json:"message_type" validate:"required"`
	Timestamp      string         `json:"timestamp"`
	Bits           int            `json:"bits,omitempty"`
	Minutes        int            `json:"minutes,omitempty"`
	Amount         float64        `json:"amount,omitempty"`
	UserContext    map[string]any `json:"user_context,omitempty"`
}

// MessageTypeChat is the only type that is parsed for commands and string rules.
const MessageTypeChat = "chatMessage"

// messageTypes is the closed set of accepted message types.
var messageTypes = map[string]struct{}{
	MessageTypeChat: {},
	"subscription":  {},
	"follow":        {},
	"donation":      {},
	"cheer":         {},
	"raid":          {},
	"host":          {},
	"subgift":       {},
	"resub":         {},
	"reaction":      {},
	"member_join":   {},
	"member_leave":  {},
	"voice_join":    {},
	"voice_leave":   {},
	"voice_time":    {},
	"boost":         {},
	"ban":           {},
	"kick":          {},
	"timeout":       {},
	"warn":          {},
	"file_share":    {},
	"app_mention":   {},
	"channel_join":  {},
}

// ErrUnknownMessageType is returned for message types outside the closed set.
var ErrUnknownMessageType = errors.New("unknown message type")

// Validate checks the event's required fields and message type.
func (e *InboundEvent) Validate() error {
	switch {
	case e.Platform == "":
		return fmt.Errorf("platform is required")
	case e.ServerID == "":
		return fmt.Errorf("server_id is required")
	case e.UserID == "":
		return fmt.Errorf("user_id is required")
	case e.UserName == "":
		return fmt.Errorf("user_name is required")
	case e.MessageContent == "":
		return fmt.Errorf("message_content is required")
	case e.MessageType == "":
		return fmt.Errorf("message_type is required")
	}
	if _, ok := messageTypes[e.MessageType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessageType, e.MessageType)
	}
	return nil
}

// ParsedCommand is a chat message split into prefix, name, and parameters.
type ParsedCommand struct {
	Prefix     string
	Name       string
	Parameters []string
}

// ParseCommand splits a chat message into a command when its first byte is
// "!" (local) or "#" (community) followed by a non-empty token. The command
// name is lowercased; the rest of the message becomes positional parameters.
func ParseCommand(content string) (ParsedCommand, bool) {
	if len(content) < 2 {
		return ParsedCommand{}, false
	}
	prefix := content[:1]
	if prefix != "!" && prefix != "#" {
		return ParsedCommand{}, false
	}

	fields := strings.Fields(content[1:])
	if len(fields) == 0 {
		return ParsedCommand{}, false
	}

	params := fields[1:]
	if params == nil {
		params = []string{}
	}
	return ParsedCommand{
		Prefix:     prefix,
		Name:       strings.ToLower(fields[0]),
		Parameters: params,
	}, true
}

// reputationMetadata extracts the platform-specific counters the reputation
// service cares about for certain event types.
func (e *InboundEvent) reputationMetadata() map[string]any {
	switch e.MessageType {
	case "cheer":
		return map[string]any{"bits": e.Bits}
	case "voice_time":
		return map[string]any{"minutes": e.Minutes}
	case "donation":
		return map[string]any{"amount": e.Amount}
	default:
		return nil
	}
}
