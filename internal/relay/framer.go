package relay

// DefaultMaxMessageLen bounds the terminator scan when no limit is configured.
const DefaultMaxMessageLen = 4096

// FrameLen returns the message length of a borrowed buffer: the index of the
// first zero byte, or the slice extent when no terminator is present.
// The scan never inspects more than maxLen+1 bytes.
func FrameLen(message []byte, maxLen int) (int, error) {
	if message == nil {
		return 0, ErrNullInput
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	for i := 0; i < len(message); i++ {
		if message[i] == 0 {
			return i, nil
		}
		if i >= maxLen {
			return 0, ErrOverlong
		}
	}
	if len(message) > maxLen {
		return 0, ErrOverlong
	}
	return len(message), nil
}
