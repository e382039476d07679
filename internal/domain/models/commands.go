package models

import "strings"

// CommandType enumerates supported operator commands.
type CommandType string

const (
	CommandStart   CommandType = "start"
	CommandStop    CommandType = "stop"
	CommandBatch   CommandType = "batch"
	CommandSale    CommandType = "sale"
	CommandStock   CommandType = "stock"
	CommandToday   CommandType = "today"
	CommandCheck   CommandType = "check"
	CommandHelp    CommandType = "help"
	CommandUnknown CommandType = "unknown"
)

// Command represents a parsed operator instruction extracted from chat text.
type Command struct {
	Type CommandType
	Raw  string
	Args []string
}

// Sender identifies who issued a command.
type Sender struct {
	ID   string
	Name string
}

// DisplayName falls back to the identity when the profile carries no name.
func (s Sender) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// ParseCommand derives a Command instance from free-form text messages.
// Arguments keep their case; product names are case sensitive in the recipe table.
func ParseCommand(message string) Command {
	tokens := strings.Fields(strings.TrimSpace(message))
	cmd := Command{Raw: message}

	if len(tokens) == 0 {
		cmd.Type = CommandUnknown
		return cmd
	}

	head := strings.ToLower(strings.TrimPrefix(tokens[0], "/"))
	switch CommandType(head) {
	case CommandStart, CommandStop, CommandBatch, CommandSale, CommandStock, CommandToday, CommandCheck, CommandHelp:
		cmd.Type = CommandType(head)
	default:
		cmd.Type = CommandUnknown
	}

	if len(tokens) > 1 {
		cmd.Args = tokens[1:]
	}

	return cmd
}
