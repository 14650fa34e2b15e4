package client

// emptyText is sent in place of an empty line.
var emptyText = []byte("\n")

// Fragment splits text into chunks that fit a text field of limit bytes,
// terminator included. Each chunk is sent as its own frame; the receiver
// displays them independently.
func Fragment(text []byte, limit int) [][]byte {
	if len(text) == 0 {
		return [][]byte{emptyText}
	}

	step := limit - 1
	if step < 1 {
		step = 1
	}

	chunks := make([][]byte, 0, (len(text)+step-1)/step)

	for len(text) > step {
		chunks = append(chunks, text[:step:step])
		text = text[step:]
	}

	return append(chunks, text)
}
