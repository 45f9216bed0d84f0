package v4l2

import "fmt"

// StreamType identifies one of the two logically independent capture
// streams that share the underlying DMA-capable image pipeline.
type StreamType uint32

const (
	// StreamVideo is the continuous capture stream.
	StreamVideo StreamType = iota
	// StreamStill is the single-shot (bounded burst) capture stream.
	StreamStill
)

func (s StreamType) String() string {
	switch s {
	case StreamVideo:
		return "video"
	case StreamStill:
		return "still"
	default:
		return fmt.Sprintf("StreamType(%d)", uint32(s))
	}
}

// BufferMode selects the done sub-list overflow policy for a
// FrameBufferQueue.
type BufferMode uint32

const (
	// BufferModeFIFO refuses new DMA starts when no free/queued slot is
	// available; the done sub-list is never evicted under consumer
	// pressure, it simply backs up.
	BufferModeFIFO BufferMode = iota
	// BufferModeRing overwrites the oldest done slot when the consumer
	// isn't draining fast enough, letting the stream free-run on a
	// fixed buffer count.
	BufferModeRing
)

func (m BufferMode) String() string {
	switch m {
	case BufferModeFIFO:
		return "fifo"
	case BufferModeRing:
		return "ring"
	default:
		return fmt.Sprintf("BufferMode(%d)", uint32(m))
	}
}

// StreamVariant is the per-stream state variable described in spec §3.
type StreamVariant uint32

const (
	StreamOff StreamVariant = iota
	StreamOn
	StreamDMA
)

func (v StreamVariant) String() string {
	switch v {
	case StreamOff:
		return "STREAMOFF"
	case StreamOn:
		return "STREAMON"
	case StreamDMA:
		return "DMA"
	default:
		return fmt.Sprintf("StreamVariant(%d)", uint32(v))
	}
}

// ArbiterCause is the input to the video-stream state arbiter.
type ArbiterCause uint32

const (
	CauseVideoStart ArbiterCause = iota
	CauseVideoStop
	CauseVideoDQBuf
	CauseStillStart
	CauseStillStop
)

func (c ArbiterCause) String() string {
	switch c {
	case CauseVideoStart:
		return "VIDEO_START"
	case CauseVideoStop:
		return "VIDEO_STOP"
	case CauseVideoDQBuf:
		return "VIDEO_DQBUF"
	case CauseStillStart:
		return "STILL_START"
	case CauseStillStop:
		return "STILL_STOP"
	default:
		return fmt.Sprintf("ArbiterCause(%d)", uint32(c))
	}
}

// WaitCause is recorded on a StreamState's rendezvous to tell a woken
// dequeue why it was woken.
type WaitCause uint32

const (
	// WaitCauseNone means the rendezvous has not been posted.
	WaitCauseNone WaitCause = iota
	// WaitCauseDMADone means a buffer completed and is ready to collect.
	WaitCauseDMADone
	// WaitCauseDQCancel means the waiter's dequeue was cancelled.
	WaitCauseDQCancel
	// WaitCauseStillStop is a spurious wake on the video stream's
	// rendezvous, posted when the still stream finishes, inviting the
	// video dequeue loop to re-consult the arbiter.
	WaitCauseStillStop
)

func (c WaitCause) String() string {
	switch c {
	case WaitCauseNone:
		return "NONE"
	case WaitCauseDMADone:
		return "DMA_DONE"
	case WaitCauseDQCancel:
		return "DQ_CANCEL"
	case WaitCauseStillStop:
		return "STILL_STOP"
	default:
		return fmt.Sprintf("WaitCause(%d)", uint32(c))
	}
}

// BufFlag carries per-buffer status flags.
type BufFlag uint32

const (
	// BufFlagError marks a buffer as having completed with a transfer
	// error; bytes-used should not be trusted.
	BufFlagError BufFlag = 1 << iota
)

// RemainingInfinite is the remaining_captures sentinel meaning
// "continuous video, or still prior to take-picture" (spec §3).
const RemainingInfinite int32 = -1
