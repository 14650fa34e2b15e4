// Package client implements the interactive chat client: command parsing,
// text fragmentation, the registration handshake and the dispatch loop that
// multiplexes the console and the server connection.
package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/actual-software/chat-relay/pkg/wire"
)

// Kind identifies a console command.
type Kind int

const (
	KindMessage Kind = iota + 1
	KindBroadcast
	KindList
	KindExit
)

var (
	ErrInvalidCommand   = errors.New("Invalid command") //nolint:staticcheck // printed verbatim
	ErrDestinationCount = errors.New("num handles must be [1-9]")
)

// HandleError reports a destination handle that failed local validation.
type HandleError struct {
	Handle string
	Err    error
}

func (e *HandleError) Error() string {
	switch {
	case errors.Is(e.Err, wire.ErrHandleTooLong):
		return fmt.Sprintf("Invalid handle, handle longer than %d characters: <%s>", wire.MaxHandleLen, e.Handle)
	case errors.Is(e.Err, wire.ErrHandleStart):
		return fmt.Sprintf("Invalid handle, handle must start with a letter: <%s>", e.Handle)
	default:
		return fmt.Sprintf("Invalid handle <%s>: %v", e.Handle, e.Err)
	}
}

func (e *HandleError) Unwrap() error {
	return e.Err
}

// Command is one parsed console line.
type Command struct {
	Kind         Kind
	Destinations []string
	Text         string
}

// ParseCommand parses a console line. Command letters are case-insensitive
// and must be written as a two character token such as "%M".
func ParseCommand(line string) (Command, error) {
	token, rest := nextToken(line)
	if len(token) != 2 || token[0] != '%' {
		return Command{}, ErrInvalidCommand
	}

	switch token[1] {
	case 'm', 'M':
		return parseMessage(rest)
	case 'b', 'B':
		return Command{Kind: KindBroadcast, Text: skipSeparator(rest)}, nil
	case 'l', 'L':
		return Command{Kind: KindList}, nil
	case 'e', 'E':
		return Command{Kind: KindExit}, nil
	default:
		return Command{}, ErrInvalidCommand
	}
}

func parseMessage(rest string) (Command, error) {
	countToken, rest := nextToken(rest)

	count, err := strconv.Atoi(countToken)
	if err != nil || count < 1 || count > wire.MaxDestinations {
		return Command{}, ErrDestinationCount
	}

	destinations := make([]string, 0, count)

	for range count {
		var handle string

		handle, rest = nextToken(rest)
		if handle == "" {
			return Command{}, ErrInvalidCommand
		}

		if err := wire.ValidateHandle(handle); err != nil {
			return Command{}, &HandleError{Handle: handle, Err: err}
		}

		destinations = append(destinations, handle)
	}

	return Command{Kind: KindMessage, Destinations: destinations, Text: skipSeparator(rest)}, nil
}

// nextToken returns the first whitespace-delimited token of s and whatever
// follows it, starting at the delimiter.
func nextToken(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")

	end := strings.IndexAny(s, " \t")
	if end < 0 {
		return s, ""
	}

	return s[:end], s[end:]
}

func skipSeparator(s string) string {
	if s != "" && (s[0] == ' ' || s[0] == '\t') {
		return s[1:]
	}

	return s
}
