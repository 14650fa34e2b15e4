package wire

import "errors"

// MaxHandleLen is the longest handle, in bytes.
const MaxHandleLen = 100

var (
	ErrHandleEmpty   = errors.New("handle is empty")
	ErrHandleTooLong = errors.New("handle longer than 100 characters")
	ErrHandleStart   = errors.New("handle must start with a letter")
)

// ValidateHandle checks that h is 1 to MaxHandleLen bytes long and starts
// with an ASCII letter.
func ValidateHandle(h string) error {
	switch {
	case len(h) == 0:
		return ErrHandleEmpty
	case len(h) > MaxHandleLen:
		return ErrHandleTooLong
	case !isASCIILetter(h[0]):
		return ErrHandleStart
	}

	return nil
}

// ValidHandle reports whether ValidateHandle accepts h.
func ValidHandle(h string) bool {
	return ValidateHandle(h) == nil
}

func isASCIILetter(c byte) bool {
	c |= 0x20 // fold to lower case

	return c >= 'a' && c <= 'z'
}
