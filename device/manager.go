package device

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

// Manager is the public operation surface of the capture core (spec
// §4.5 StreamManager): request-buffers, queue, dequeue, streamon/off, and
// take-picture start/stop, composing a FrameBufferQueue, StreamState, and
// FormatCatalog per stream over one shared dmaController.
//
// Manager owns both streams exclusively; buffer memory is borrowed from
// the caller between Queue and Dequeue and must not be released by the
// caller during that interval (spec §3).
type Manager struct {
	sync.Mutex // open_lock: serializes open/close reference counting.

	path      string
	openCount int

	sensor v4l2.SensorCtl
	image  v4l2.ImageData

	video *StreamState
	still *StreamState

	videoQueue *FrameBufferQueue
	stillQueue *FrameBufferQueue

	videoFormats *FormatCatalog
	stillFormats *FormatCatalog

	dma *dmaController
	log *zap.Logger
	met *metrics

	pendingConfig *Config
}

// Open constructs a Manager for the device at path, backed by the given
// sensor and image-pipeline collaborators, and opens it (spec §3
// lifecycle: "the manager is constructed at module init with a device
// path"). Collaborators are injected rather than discovered — spec §9
// models SensorCtl and ImageData as capability records held by reference
// with lifetime at least that of the manager.
func Open(path string, sensor v4l2.SensorCtl, image v4l2.ImageData, opts ...Option) (*Manager, error) {
	if sensor == nil || image == nil {
		return nil, fmt.Errorf("device: open %s: %w", path, v4l2.ErrorInvalidArg)
	}

	m := &Manager{
		path:       path,
		sensor:     sensor,
		image:      image,
		video:      newStreamState(v4l2.StreamVideo),
		still:      newStreamState(v4l2.StreamStill),
		videoQueue: NewFrameBufferQueue(v4l2.StreamVideo),
		stillQueue: NewFrameBufferQueue(v4l2.StreamStill),
		log:        zap.NewNop(),
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("device: open %s: %w", path, err)
		}
	}
	m.dma = newDMAController(sensor, image, m.log, m.met)

	if err := m.open(); err != nil {
		return nil, err
	}
	if err := m.applyPendingConfig(); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) open() error {
	m.Lock()
	defer m.Unlock()

	if m.openCount == 0 {
		if err := m.sensor.Open(); err != nil {
			return fmt.Errorf("device: open %s: sensor: %w", m.path, err)
		}
		if err := m.image.Open(); err != nil {
			_ = m.sensor.Close()
			return fmt.Errorf("device: open %s: image pipeline: %w", m.path, err)
		}

		videoFormats, err := buildFormatCatalog(m.sensor, m.image, v4l2.StreamVideo)
		if err != nil {
			_ = m.image.Close()
			_ = m.sensor.Close()
			return fmt.Errorf("device: open %s: %w", m.path, err)
		}
		stillFormats, err := buildFormatCatalog(m.sensor, m.image, v4l2.StreamStill)
		if err != nil {
			_ = m.image.Close()
			_ = m.sensor.Close()
			return fmt.Errorf("device: open %s: %w", m.path, err)
		}
		m.videoFormats = videoFormats
		m.stillFormats = stillFormats
	}
	m.openCount++
	return nil
}

// Close drops the manager's open reference. On the last close it cancels
// any in-flight DMA, resets both streams to STREAMOFF, and closes the
// collaborators. A clean close returns nil — the original NuttX driver's
// video_close unconditionally returned an error on the success path, which
// spec §9 flags as a bug; this port does not reproduce it.
func (m *Manager) Close() error {
	m.Lock()
	defer m.Unlock()

	if m.openCount == 0 {
		return nil
	}
	m.openCount--
	if m.openCount > 0 {
		return nil
	}

	var err error

	m.video.Lock()
	if m.video.Variant() == v4l2.StreamDMA {
		if cerr := m.image.CancelDMA(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("device: close: cancel video dma: %w", cerr))
		}
	}
	m.video.reset()
	m.video.Unlock()

	m.still.Lock()
	if m.still.Variant() == v4l2.StreamDMA {
		if cerr := m.image.CancelDMA(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("device: close: cancel still dma: %w", cerr))
		}
	}
	m.still.reset()
	m.still.Unlock()

	if cerr := m.image.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("device: close: image pipeline: %w", cerr))
	}
	if cerr := m.sensor.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("device: close: sensor: %w", cerr))
	}
	return err
}

// resolve maps a stream kind to its state, queue, and format catalog.
func (m *Manager) resolve(stream v4l2.StreamType) (*StreamState, *FrameBufferQueue, *FormatCatalog, error) {
	switch stream {
	case v4l2.StreamVideo:
		return m.video, m.videoQueue, m.videoFormats, nil
	case v4l2.StreamStill:
		return m.still, m.stillQueue, m.stillFormats, nil
	default:
		return nil, nil, nil, fmt.Errorf("device: stream %d: %w", stream, v4l2.ErrorInvalidArg)
	}
}

func (m *Manager) observeQueue(stream v4l2.StreamType, queue *FrameBufferQueue) {
	if m.met == nil {
		return
	}
	free, queued, dma, done := queue.Counts()
	m.met.observeQueue(stream.String(), free, queued, dma, done)
}

func (m *Manager) observeCommand(cmd v4l2.Command) {
	m.met.observeCommand(cmd)
}

// applyVideoTransition consults the Arbiter for cause against video's own
// current variant and still's, and applies the result. Caller must hold
// m.video.Lock(); still's variant is read via its atomic accessor rather
// than its Mutex, which is what keeps this the only direction a
// video-triggered operation ever touches the sibling stream (spec §5
// lock-ordering rule — see StreamState's doc comment).
func (m *Manager) applyVideoTransition(cause v4l2.ArbiterCause) error {
	next := nextVideoState(m.video.Variant(), m.still.Variant(), cause)
	if m.met != nil {
		m.met.transitions.WithLabelValues(cause.String()).Inc()
	}
	return m.dma.apply(m.video, m.videoQueue, next)
}

// applyCrossToVideo is the still-triggered counterpart: caller must hold
// m.still.Lock(); it then acquires m.video.Lock() (own stream's lock
// first, then the sibling's, per spec §5) to drive video's transition in
// response to STILL_START/STILL_STOP.
func (m *Manager) applyCrossToVideo(cause v4l2.ArbiterCause) error {
	m.video.Lock()
	defer m.video.Unlock()
	next := nextVideoState(m.video.Variant(), m.still.Variant(), cause)
	if m.met != nil {
		m.met.transitions.WithLabelValues(cause.String()).Inc()
	}
	return m.dma.apply(m.video, m.videoQueue, next)
}

// RequestBuffers resizes stream's queue to count slots under mode. It
// fails with ErrorNotPermitted while the stream is DMA (spec §4.5).
func (m *Manager) RequestBuffers(stream v4l2.StreamType, count uint32, mode v4l2.BufferMode) error {
	m.observeCommand(v4l2.CmdReqBufs)
	state, queue, _, err := m.resolve(stream)
	if err != nil {
		return err
	}

	state.Lock()
	defer state.Unlock()

	if queue.HasDMA() {
		return fmt.Errorf("device: request buffers: stream %s: %w", stream, v4l2.ErrorNotPermitted)
	}
	queue.SetMode(mode)
	if err := queue.Realloc(count); err != nil {
		return fmt.Errorf("device: request buffers: stream %s: %w", stream, err)
	}
	m.observeQueue(stream, queue)
	return nil
}

// Queue submits buf to stream (spec §4.5 queue). If the stream is
// STREAMON it may trigger a state transition: video re-consults the
// Arbiter with VIDEO_START; still starts DMA directly if a slot just
// became available. If the stream is already DMA, the buffer simply
// waits in queued.
func (m *Manager) Queue(stream v4l2.StreamType, buf v4l2.Buffer) (uint32, error) {
	m.observeCommand(v4l2.CmdQBuf)
	state, queue, _, err := m.resolve(stream)
	if err != nil {
		return 0, err
	}
	if buf.Ptr == 0 || buf.Length == 0 {
		return 0, fmt.Errorf("device: queue: stream %s: %w", stream, v4l2.ErrorInvalidArg)
	}

	state.Lock()
	defer state.Unlock()

	if w, h := state.ActiveFormat.Width, state.ActiveFormat.Height; w > 0 && h > 0 &&
		uint64(buf.Length) < uint64(w)*uint64(h) {
		return 0, fmt.Errorf("device: queue: stream %s: buffer too small for active format: %w", stream, v4l2.ErrorInvalidArg)
	}

	idx, err := queue.AcquireFree()
	if err != nil {
		return 0, fmt.Errorf("device: queue: stream %s: %w", stream, err)
	}
	buf.Stream = stream
	queue.Enqueue(idx, buf)
	m.observeQueue(stream, queue)

	switch {
	case stream == v4l2.StreamVideo && state.Variant() == v4l2.StreamOn:
		if err := m.applyVideoTransition(v4l2.CauseVideoStart); err != nil {
			return idx, err
		}
	case stream == v4l2.StreamStill && state.Variant() == v4l2.StreamOn:
		if err := m.dma.apply(state, queue, v4l2.StreamDMA); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// Dequeue blocks until a filled buffer is available for stream, or until
// CancelDequeue is called (spec §4.5 dequeue). A STILL_STOP wake is
// spurious — inviting the video stream to re-evaluate whether it can now
// resume DMA — and must not be reported to the caller; the loop re-arms
// and waits again.
func (m *Manager) Dequeue(stream v4l2.StreamType) (v4l2.Buffer, error) {
	m.observeCommand(v4l2.CmdDQBuf)
	state, queue, _, err := m.resolve(stream)
	if err != nil {
		return v4l2.Buffer{}, err
	}

	for {
		state.Lock()
		if buf, ok := queue.PopDone(); ok {
			queue.Release(buf.Index)
			m.observeQueue(stream, queue)
			state.Unlock()
			return buf, nil
		}

		if stream == v4l2.StreamVideo {
			if err := m.applyVideoTransition(v4l2.CauseVideoDQBuf); err != nil {
				state.Unlock()
				return v4l2.Buffer{}, err
			}
		}

		state.Wait.arm()
		state.Unlock()

		cause, slot := state.Wait.wait()
		switch cause {
		case v4l2.WaitCauseDMADone:
			state.Lock()
			queue.Release(slot.Index)
			m.observeQueue(stream, queue)
			state.Unlock()
			return slot, nil
		case v4l2.WaitCauseDQCancel:
			return v4l2.Buffer{}, fmt.Errorf("device: dequeue: stream %s: %w", stream, v4l2.ErrorCanceled)
		default: // WaitCauseStillStop, or a stale WaitCauseNone: re-evaluate.
		}
	}
}

// CancelDequeue wakes a blocked Dequeue on stream with ErrorCanceled. It
// is always OK, even if nothing was waiting (spec §4.5).
func (m *Manager) CancelDequeue(stream v4l2.StreamType) error {
	m.observeCommand(v4l2.CmdCancelDQBuf)
	state, _, _, err := m.resolve(stream)
	if err != nil {
		return err
	}
	state.Wait.post(v4l2.WaitCauseDQCancel, v4l2.Buffer{})
	return nil
}

// StreamOn starts the video stream (still uses TakePictureStart). It
// fails ErrorNotPermitted if video is already on.
func (m *Manager) StreamOn(stream v4l2.StreamType) error {
	m.observeCommand(v4l2.CmdStreamOn)
	if stream != v4l2.StreamVideo {
		return fmt.Errorf("device: streamon: stream %s: %w", stream, v4l2.ErrorNotSupported)
	}
	m.video.Lock()
	defer m.video.Unlock()

	if m.video.Variant() != v4l2.StreamOff {
		return fmt.Errorf("device: streamon: %w", v4l2.ErrorNotPermitted)
	}
	return m.applyVideoTransition(v4l2.CauseVideoStart)
}

// StreamOff stops the video stream, cancelling any in-flight DMA.
func (m *Manager) StreamOff(stream v4l2.StreamType) error {
	m.observeCommand(v4l2.CmdStreamOff)
	if stream != v4l2.StreamVideo {
		return fmt.Errorf("device: streamoff: stream %s: %w", stream, v4l2.ErrorNotSupported)
	}
	m.video.Lock()
	defer m.video.Unlock()
	return m.applyVideoTransition(v4l2.CauseVideoStop)
}

// TakePictureStart begins a still burst of n frames (n<=0 means
// infinite, until TakePictureStop). It fails ErrorNotPermitted unless
// still is currently STREAMOFF.
func (m *Manager) TakePictureStart(n int32) error {
	m.observeCommand(v4l2.CmdTakePictureStart)
	m.still.Lock()
	defer m.still.Unlock()

	if m.still.Variant() != v4l2.StreamOff {
		return fmt.Errorf("device: take picture start: %w", v4l2.ErrorNotPermitted)
	}

	if n <= 0 {
		m.still.Remaining = v4l2.RemainingInfinite
	} else {
		m.still.Remaining = n
	}

	if err := m.applyCrossToVideo(v4l2.CauseStillStart); err != nil {
		return err
	}
	return m.dma.apply(m.still, m.stillQueue, v4l2.StreamDMA)
}

// TakePictureStop ends a still burst early (or releases the half-press
// shutter state if one never started). It fails ErrorNotPermitted only
// when still was never started at all (STREAMOFF with infinite
// remaining).
func (m *Manager) TakePictureStop(halfpush bool) error {
	m.observeCommand(v4l2.CmdTakePictureStop)
	m.still.Lock()
	defer m.still.Unlock()

	if m.still.Variant() == v4l2.StreamOff && m.still.Remaining == v4l2.RemainingInfinite {
		return fmt.Errorf("device: take picture stop: %w", v4l2.ErrorNotPermitted)
	}

	if m.still.Variant() == v4l2.StreamDMA {
		if err := m.image.CancelDMA(); err != nil {
			m.log.Debug("cancel dma on take picture stop returned error", zap.Error(err))
		}
	}
	m.still.reset()

	if err := m.sensor.DoHalfPush(halfpush); err != nil {
		return fmt.Errorf("device: take picture stop: halfpush: %w", err)
	}
	return m.applyCrossToVideo(v4l2.CauseStillStop)
}

// DoHalfPush is the standalone DO_HALFPUSH pass-through (spec §6),
// independent of an in-progress still burst.
func (m *Manager) DoHalfPush(on bool) error {
	m.observeCommand(v4l2.CmdDoHalfPush)
	if err := m.sensor.DoHalfPush(on); err != nil {
		return fmt.Errorf("device: do halfpush: %w", err)
	}
	return nil
}

// StreamStats is a point-in-time snapshot of one stream's queue and
// state, modeled on go4vl's FramePool.Stats().
type StreamStats struct {
	Variant   v4l2.StreamVariant
	Remaining int32
	Free      int
	Queued    int
	DMA       int
	Done      int
}

// Stats is a point-in-time snapshot of both streams.
type Stats struct {
	Video StreamStats
	Still StreamStats
}

func snapshotStream(state *StreamState, queue *FrameBufferQueue) StreamStats {
	state.Lock()
	defer state.Unlock()
	free, queued, dma, done := queue.Counts()
	return StreamStats{
		Variant:   state.Variant(),
		Remaining: state.Remaining,
		Free:      free,
		Queued:    queued,
		DMA:       dma,
		Done:      done,
	}
}

// Stats returns a snapshot of both streams' state and queue depths.
func (m *Manager) Stats() Stats {
	return Stats{
		Video: snapshotStream(m.video, m.videoQueue),
		Still: snapshotStream(m.still, m.stillQueue),
	}
}
