package device

import (
	"errors"
	"testing"
	"time"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

func newTestManager(t *testing.T) (*Manager, *fakeSensor, *fakeImage) {
	t.Helper()
	sensor := newFakeSensor()
	image := newFakeImage()
	m, err := Open("/dev/video0", sensor, image)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, sensor, image
}

// TestManagerSimpleVideo is the S1 scenario of spec §8: a plain video
// capture loop with no still involvement at all.
func TestManagerSimpleVideo(t *testing.T) {
	m, _, _ := newTestManager(t)

	if err := m.RequestBuffers(v4l2.StreamVideo, 2, v4l2.BufferModeFIFO); err != nil {
		t.Fatalf("request buffers: %v", err)
	}
	idxA, err := m.Queue(v4l2.StreamVideo, v4l2.Buffer{Ptr: 0xA, Length: 4096})
	if err != nil {
		t.Fatalf("queue a: %v", err)
	}
	idxB, err := m.Queue(v4l2.StreamVideo, v4l2.Buffer{Ptr: 0xB, Length: 4096})
	if err != nil {
		t.Fatalf("queue b: %v", err)
	}
	if err := m.StreamOn(v4l2.StreamVideo); err != nil {
		t.Fatalf("streamon: %v", err)
	}
	if got := m.video.Variant(); got != v4l2.StreamDMA {
		t.Fatalf("video variant after streamon = %v, want DMA", got)
	}

	m.NotifyPath(v4l2.StreamVideo, false, 1000)
	buf, err := m.Dequeue(v4l2.StreamVideo)
	if err != nil {
		t.Fatalf("dequeue 1: %v", err)
	}
	if buf.Index != idxA || buf.BytesUsed != 1000 {
		t.Fatalf("dequeue 1 = %+v, want index %d bytes 1000", buf, idxA)
	}

	m.NotifyPath(v4l2.StreamVideo, false, 1200)
	buf2, err := m.Dequeue(v4l2.StreamVideo)
	if err != nil {
		t.Fatalf("dequeue 2: %v", err)
	}
	if buf2.Index != idxB || buf2.BytesUsed != 1200 {
		t.Fatalf("dequeue 2 = %+v, want index %d bytes 1200", buf2, idxB)
	}

	if err := m.StreamOff(v4l2.StreamVideo); err != nil {
		t.Fatalf("streamoff: %v", err)
	}
	if got := m.video.Variant(); got != v4l2.StreamOff {
		t.Fatalf("video variant after streamoff = %v, want STREAMOFF", got)
	}
}

// TestManagerStillPreemptsVideo is the S2 scenario of spec §8: a still
// capture takes DMA away from an active video stream, then hands it back.
//
// Cancelling video's in-flight transfer is asynchronous: apply() issues
// CancelDMA and demotes the variant immediately, but the queue still
// believes that slot is dma-current until the pipeline actually reports a
// completion for it (spec §4.4). This test drives that completion
// explicitly, with the error flag set, the way a real cancel-ack would
// arrive.
func TestManagerStillPreemptsVideo(t *testing.T) {
	m, _, _ := newTestManager(t)

	if err := m.RequestBuffers(v4l2.StreamVideo, 2, v4l2.BufferModeFIFO); err != nil {
		t.Fatalf("request video buffers: %v", err)
	}
	idxA, err := m.Queue(v4l2.StreamVideo, v4l2.Buffer{Ptr: 0xA, Length: 4096})
	if err != nil {
		t.Fatalf("queue video a: %v", err)
	}
	if _, err := m.Queue(v4l2.StreamVideo, v4l2.Buffer{Ptr: 0xB, Length: 4096}); err != nil {
		t.Fatalf("queue video b: %v", err)
	}
	if err := m.StreamOn(v4l2.StreamVideo); err != nil {
		t.Fatalf("streamon: %v", err)
	}
	if got := m.video.Variant(); got != v4l2.StreamDMA {
		t.Fatalf("video variant after streamon = %v, want DMA", got)
	}

	if err := m.RequestBuffers(v4l2.StreamStill, 1, v4l2.BufferModeFIFO); err != nil {
		t.Fatalf("request still buffers: %v", err)
	}
	if _, err := m.Queue(v4l2.StreamStill, v4l2.Buffer{Ptr: 0xC, Length: 8192}); err != nil {
		t.Fatalf("queue still: %v", err)
	}

	if err := m.TakePictureStart(1); err != nil {
		t.Fatalf("take picture start: %v", err)
	}
	if got := m.video.Variant(); got != v4l2.StreamOn {
		t.Fatalf("video variant after take_picture_start = %v, want STREAMON", got)
	}
	if got := m.still.Variant(); got != v4l2.StreamDMA {
		t.Fatalf("still variant after take_picture_start = %v, want DMA", got)
	}

	// Hardware acknowledges video's cancelled transfer. Still still holds
	// DMA, so video must not re-chain onto B even though it's queued.
	m.NotifyPath(v4l2.StreamVideo, true, 0)
	if got := m.video.Variant(); got != v4l2.StreamOn {
		t.Fatalf("video variant after cancel ack = %v, want STREAMON (still has priority)", got)
	}
	cancelled, err := m.Dequeue(v4l2.StreamVideo)
	if err != nil {
		t.Fatalf("dequeue cancelled video buffer: %v", err)
	}
	if cancelled.Index != idxA || !cancelled.HasError() {
		t.Fatalf("cancelled video buffer = %+v, want index %d with error flag", cancelled, idxA)
	}

	m.NotifyPath(v4l2.StreamStill, false, 2048)
	if got := m.still.Variant(); got != v4l2.StreamOff {
		t.Fatalf("still variant after completion = %v, want STREAMOFF", got)
	}
	if got := m.still.Remaining; got != v4l2.RemainingInfinite {
		t.Fatalf("still remaining after completion = %d, want infinite sentinel", got)
	}

	// A video dequeue now re-consults the Arbiter, finds still idle, and
	// resumes DMA on B.
	type result struct {
		buf v4l2.Buffer
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf, err := m.Dequeue(v4l2.StreamVideo)
		done <- result{buf, err}
	}()

	deadline := time.After(2 * time.Second)
	for {
		if m.video.Variant() == v4l2.StreamDMA {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("video never resumed dma after still yielded")
		case <-time.After(time.Millisecond):
		}
	}

	m.NotifyPath(v4l2.StreamVideo, false, 1234)
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("resumed dequeue: %v", r.err)
		}
		if r.buf.BytesUsed != 1234 {
			t.Fatalf("resumed dequeue bytes = %d, want 1234", r.buf.BytesUsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("resumed dequeue timed out")
	}
}

// TestManagerCancelDequeue is the S3 scenario of spec §8: a blocked
// dequeue is released with ErrorCanceled rather than a buffer.
func TestManagerCancelDequeue(t *testing.T) {
	m, _, _ := newTestManager(t)

	if err := m.RequestBuffers(v4l2.StreamVideo, 1, v4l2.BufferModeFIFO); err != nil {
		t.Fatalf("request buffers: %v", err)
	}
	if err := m.StreamOn(v4l2.StreamVideo); err != nil {
		t.Fatalf("streamon: %v", err)
	}

	type result struct {
		buf v4l2.Buffer
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf, err := m.Dequeue(v4l2.StreamVideo)
		done <- result{buf, err}
	}()

	// Give the dequeue goroutine a chance to arm before cancelling; if it
	// hasn't armed yet CancelDequeue is a documented no-op and the test
	// would hang, so poll hasWaiter instead of sleeping blind.
	deadline := time.After(2 * time.Second)
	for !m.video.Wait.hasWaiter() {
		select {
		case <-deadline:
			t.Fatalf("dequeue never armed its wait")
		case <-time.After(time.Millisecond):
		}
	}

	if err := m.CancelDequeue(v4l2.StreamVideo); err != nil {
		t.Fatalf("cancel dequeue: %v", err)
	}

	select {
	case r := <-done:
		if !errors.Is(r.err, v4l2.ErrorCanceled) {
			t.Fatalf("cancelled dequeue error = %v, want ErrorCanceled", r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled dequeue never returned")
	}

	// A no-op cancel (nothing waiting) is still fine.
	if err := m.CancelDequeue(v4l2.StreamVideo); err != nil {
		t.Fatalf("cancel dequeue with no waiter: %v", err)
	}
}

// TestManagerStillBurstCount is the S4 scenario of spec §8: a bounded
// still burst stops itself after its count is exhausted, leaving any
// surplus queued buffer untouched.
func TestManagerStillBurstCount(t *testing.T) {
	m, _, _ := newTestManager(t)

	if err := m.RequestBuffers(v4l2.StreamStill, 3, v4l2.BufferModeFIFO); err != nil {
		t.Fatalf("request buffers: %v", err)
	}
	for _, ptr := range []uintptr{0x1, 0x2, 0x3} {
		if _, err := m.Queue(v4l2.StreamStill, v4l2.Buffer{Ptr: ptr, Length: 64}); err != nil {
			t.Fatalf("queue still %#x: %v", ptr, err)
		}
	}

	if err := m.TakePictureStart(2); err != nil {
		t.Fatalf("take picture start: %v", err)
	}
	if got := m.still.Variant(); got != v4l2.StreamDMA {
		t.Fatalf("still variant after start = %v, want DMA", got)
	}

	m.NotifyPath(v4l2.StreamStill, false, 100)
	if got := m.still.Variant(); got != v4l2.StreamDMA {
		t.Fatalf("still variant after first completion = %v, want DMA (one capture left)", got)
	}

	m.NotifyPath(v4l2.StreamStill, false, 200)
	if got := m.still.Variant(); got != v4l2.StreamOff {
		t.Fatalf("still variant after second completion = %v, want STREAMOFF", got)
	}

	stats := m.Stats()
	if stats.Still.DMA != 0 {
		t.Fatalf("still dma count after burst = %d, want 0", stats.Still.DMA)
	}
	if stats.Still.Done != 2 {
		t.Fatalf("still done count after burst = %d, want 2", stats.Still.Done)
	}
	if stats.Still.Queued != 1 {
		t.Fatalf("still queued count after burst = %d, want 1 (third buffer never touched)", stats.Still.Queued)
	}
}

func TestManagerTakePictureStopBeforeStartIsNotPermitted(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.TakePictureStop(false); !errors.Is(err, v4l2.ErrorNotPermitted) {
		t.Fatalf("take picture stop before start: got %v, want ErrorNotPermitted", err)
	}
}

func TestManagerTakePictureStopEarlyForwardsHalfpush(t *testing.T) {
	m, sensor, _ := newTestManager(t)
	if err := m.RequestBuffers(v4l2.StreamStill, 1, v4l2.BufferModeFIFO); err != nil {
		t.Fatalf("request buffers: %v", err)
	}
	if _, err := m.Queue(v4l2.StreamStill, v4l2.Buffer{Ptr: 1, Length: 64}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := m.TakePictureStart(0); err != nil {
		t.Fatalf("take picture start: %v", err)
	}
	if err := m.TakePictureStop(true); err != nil {
		t.Fatalf("take picture stop: %v", err)
	}
	if !sensor.halfpush {
		t.Fatalf("take picture stop(true) did not forward halfpush to the sensor")
	}
	if got := m.still.Variant(); got != v4l2.StreamOff {
		t.Fatalf("still variant after stop = %v, want STREAMOFF", got)
	}
}

func TestManagerRequestBuffersRejectedWhileDMA(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.RequestBuffers(v4l2.StreamVideo, 1, v4l2.BufferModeFIFO); err != nil {
		t.Fatalf("request buffers: %v", err)
	}
	if _, err := m.Queue(v4l2.StreamVideo, v4l2.Buffer{Ptr: 1, Length: 64}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := m.StreamOn(v4l2.StreamVideo); err != nil {
		t.Fatalf("streamon: %v", err)
	}
	if err := m.RequestBuffers(v4l2.StreamVideo, 2, v4l2.BufferModeFIFO); !errors.Is(err, v4l2.ErrorNotPermitted) {
		t.Fatalf("request buffers while dma: got %v, want ErrorNotPermitted", err)
	}
}
