package console

import (
	"strings"
	"unicode"
)

// ParseResult holds the parsed command name and arguments from a text line.
type ParseResult struct {
	// Command is the first word of the input, lowercased.
	Command string
	// Args are the remaining words after the command.
	Args []string
	// RawArgs is the text after the command with inner spacing preserved,
	// so room names may contain spaces.
	RawArgs string
}

// Parse splits a text line into a command and arguments. Any Unicode
// whitespace separates words.
//
// Postcondition: If line is blank, Command is empty.
func Parse(line string) ParseResult {
	line = strings.TrimSpace(line)
	if line == "" {
		return ParseResult{}
	}

	idx := strings.IndexFunc(line, unicode.IsSpace)
	if idx < 0 {
		return ParseResult{Command: strings.ToLower(line)}
	}

	rest := strings.TrimSpace(line[idx:])
	return ParseResult{
		Command: strings.ToLower(line[:idx]),
		Args:    strings.Fields(rest),
		RawArgs: rest,
	}
}
