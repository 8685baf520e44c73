package chatsocket

import "bytes"

// DefaultReadBufferSize is the size of the buffer used for a single socket read.
// A logical message may span many reads.
const DefaultReadBufferSize = 1_000_000

// FrameKind classifies a fragment handed to the Framer.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameClose
	FrameOther
)

// FrameStatus is the outcome of feeding a fragment to the Framer.
type FrameStatus int

const (
	// FramePending means more fragments are expected.
	FramePending FrameStatus = iota
	// FrameComplete means a full logical message is available in Text.
	FrameComplete
	// FrameClosed means the stream ended; CloseCode holds the close status.
	FrameClosed
	// FrameAnomaly means the fragment was of an unsupported kind and was ignored.
	FrameAnomaly
)

func (s FrameStatus) String() string {
	switch s {
	case FramePending:
		return "pending"
	case FrameComplete:
		return "complete"
	case FrameClosed:
		return "closed"
	case FrameAnomaly:
		return "anomaly"
	default:
		return "unknown"
	}
}

// FrameResult is returned by Framer.Feed.
type FrameResult struct {
	Status    FrameStatus
	Text      string
	CloseCode int
}

// Framer reassembles text fragments into logical messages.
//
// Bytes are accumulated undecoded and converted to a string only when the
// final fragment arrives, so a multi-byte rune split across reads is
// reassembled intact. A Framer is not safe for concurrent use; the receive
// loop owns it.
type Framer struct {
	buf bytes.Buffer
}

// Feed hands one fragment to the framer. closeCode is the close status carried
// by the read, or zero when none was present.
func (f *Framer) Feed(data []byte, final bool, kind FrameKind, closeCode int) FrameResult {
	if kind == FrameClose || closeCode != 0 {
		f.buf.Reset()
		return FrameResult{Status: FrameClosed, CloseCode: closeCode}
	}

	if kind != FrameText {
		return FrameResult{Status: FrameAnomaly}
	}

	f.buf.Write(data)
	if !final {
		return FrameResult{Status: FramePending}
	}

	text := f.buf.String()
	f.buf.Reset()
	return FrameResult{Status: FrameComplete, Text: text}
}

// Buffered returns the number of bytes accumulated for the current message.
func (f *Framer) Buffered() int {
	return f.buf.Len()
}

// Reset discards any partially accumulated message.
func (f *Framer) Reset() {
	f.buf.Reset()
}
