package v4l2

// Buffer (analogous to v4l2_buffer) is the value-type record describing one
// frame buffer handed between the caller and the capture core. Buffer
// memory is owned by the caller; the core only reads/writes through Ptr
// between Queue and Dequeue.
//
// Keys are unique per queued instance; equality is by Index, not by value.
type Buffer struct {
	// Stream identifies which of the two streams this buffer belongs to.
	Stream StreamType
	// Ptr is the caller-supplied memory address backing this buffer.
	Ptr uintptr
	// Length is the capacity, in bytes, of the memory at Ptr.
	Length uint32
	// BytesUsed is filled in by NotifyPath once the DMA completes.
	BytesUsed uint32
	// Flags carries completion status (see BufFlag).
	Flags BufFlag
	// Index is an opaque per-queue slot identifier assigned when the
	// buffer is queued (Queue returns it); it round-trips through Queue/Dequeue so the caller
	// can correlate completions with the slot it submitted.
	Index uint32
}

// HasError reports whether the buffer completed with the error flag set.
func (b Buffer) HasError() bool {
	return b.Flags&BufFlagError != 0
}
