package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actual-software/chat-relay/pkg/wire"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{
			name: "message to one handle",
			line: "%M 1 Bob hello",
			want: Command{Kind: KindMessage, Destinations: []string{"Bob"}, Text: "hello"},
		},
		{
			name: "message keeps inner spacing",
			line: "%m 2 Bob Carol  hi   there ",
			want: Command{Kind: KindMessage, Destinations: []string{"Bob", "Carol"}, Text: " hi   there "},
		},
		{
			name: "message without text",
			line: "%M 1 Bob",
			want: Command{Kind: KindMessage, Destinations: []string{"Bob"}},
		},
		{
			name: "broadcast",
			line: "%B hello everyone",
			want: Command{Kind: KindBroadcast, Text: "hello everyone"},
		},
		{
			name: "lower case broadcast without text",
			line: "%b",
			want: Command{Kind: KindBroadcast},
		},
		{
			name: "list ignores trailing input",
			line: "%L please",
			want: Command{Kind: KindList},
		},
		{
			name: "exit",
			line: "%e",
			want: Command{Kind: KindExit},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{name: "empty", line: "", wantErr: ErrInvalidCommand},
		{name: "no percent", line: "hello", wantErr: ErrInvalidCommand},
		{name: "unknown letter", line: "%X", wantErr: ErrInvalidCommand},
		{name: "letter not alone", line: "%Mx 1 Bob hi", wantErr: ErrInvalidCommand},
		{name: "count missing", line: "%M", wantErr: ErrDestinationCount},
		{name: "count zero", line: "%M 0 Bob hi", wantErr: ErrDestinationCount},
		{name: "count ten", line: "%M 10 Bob hi", wantErr: ErrDestinationCount},
		{name: "count not a number", line: "%M two Bob hi", wantErr: ErrDestinationCount},
		{name: "too few handles", line: "%M 3 Bob Carol", wantErr: ErrInvalidCommand},
		{name: "handle starts with digit", line: "%M 1 9lives hi", wantErr: wire.ErrHandleStart},
		{name: "handle too long", line: "%M 1 " + strings.Repeat("a", 101) + " hi", wantErr: wire.ErrHandleTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand(tt.line)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHandleError_Message(t *testing.T) {
	long := strings.Repeat("a", 101)

	_, err := ParseCommand("%M 1 " + long)
	require.Error(t, err)
	assert.Equal(t, "Invalid handle, handle longer than 100 characters: <"+long+">", err.Error())

	_, err = ParseCommand("%M 1 1abc")
	require.Error(t, err)
	assert.Equal(t, "Invalid handle, handle must start with a letter: <1abc>", err.Error())
}

func TestParseCommand_MaximumDestinations(t *testing.T) {
	handles := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}

	got, err := ParseCommand("%M 9 " + strings.Join(handles, " ") + " hi")
	require.NoError(t, err)
	assert.Equal(t, handles, got.Destinations)
	assert.Equal(t, "hi", got.Text)
}
