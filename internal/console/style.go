package console

import "fmt"

// ANSI escape codes used by the console.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

// styler applies ANSI colors when enabled and passes text through otherwise.
type styler struct {
	enabled bool
}

func (s styler) paint(color, text string) string {
	if !s.enabled {
		return text
	}
	return color + text + reset
}

func (s styler) paintf(color, format string, args ...any) string {
	return s.paint(color, fmt.Sprintf(format, args...))
}

// StripANSI removes all ANSI escape sequences from a string.
//
// Postcondition: Returns text with all \033[...m sequences removed.
func StripANSI(s string) string {
	result := make([]byte, 0, len(s))
	i := 0
	for i < len(s) {
		if s[i] == '\033' && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			if j < len(s) {
				i = j + 1
				continue
			}
		}
		result = append(result, s[i])
		i++
	}
	return string(result)
}
