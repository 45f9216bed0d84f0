package device

import "github.com/Barry-Xu-2018/spresense-camera/v4l2"

// nextVideoState is the pure function of spec §4.3: given the current
// video and still variants and a transition cause, it computes the video
// stream's next variant. It is total over the (state, cause) domain and
// never errors — cross-stream Arbiter transitions cannot fail by
// construction (spec §7).
//
// The still stream's own next variant in response to STILL_START/STOP is
// decided by the caller (StreamManager.TakePictureStart/Stop), which is
// why this function only ever returns a video variant: still owns its
// own transitions directly, video reacts to them.
func nextVideoState(curVideo, curStill v4l2.StreamVariant, cause v4l2.ArbiterCause) v4l2.StreamVariant {
	switch cause {
	case v4l2.CauseVideoStop:
		return v4l2.StreamOff

	case v4l2.CauseVideoStart:
		if curStill == v4l2.StreamOn || curStill == v4l2.StreamDMA {
			return v4l2.StreamOn
		}
		return v4l2.StreamDMA

	case v4l2.CauseStillStart:
		if curVideo == v4l2.StreamDMA {
			return v4l2.StreamOn
		}
		return curVideo

	case v4l2.CauseStillStop:
		if curVideo == v4l2.StreamOn {
			return v4l2.StreamDMA
		}
		return curVideo

	case v4l2.CauseVideoDQBuf:
		if curVideo == v4l2.StreamOn && curStill == v4l2.StreamOff {
			return v4l2.StreamDMA
		}
		return curVideo

	default:
		return curVideo
	}
}
