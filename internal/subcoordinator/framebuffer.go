package subcoordinator

import "sync"

// frameSlot holds one frame's chunks plus a completion flag. Once complete
// is true the chunk array is immutable for the remaining lifetime of the
// video, per the frame-buffer invariant in the data model.
type frameSlot struct {
	chunks   [][]byte
	received int
	complete bool
}

// videoBuffer is the per-Subcoordinator, per-video frame buffer: an array of
// frameSlot indexed by frame number, retained for the lifetime of the video
// to serve replay requests. frameBuffers is written only by the streaming
// goroutine and read by replay workers; a frame is only ever read by a
// replay worker once its complete flag is set.
type videoBuffer struct {
	mu          sync.Mutex
	frames      []frameSlot
	totalFrames int
	ended       bool
}

func newVideoBuffer(totalFrames int) *videoBuffer {
	return &videoBuffer{frames: make([]frameSlot, totalFrames), totalFrames: totalFrames}
}

// allocate reserves totalChunks slots for frameNum before the streaming
// goroutine starts sending chunks.
func (vb *videoBuffer) allocate(frameNum, totalChunks int) {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	vb.frames[frameNum].chunks = make([][]byte, totalChunks)
}

// store records one chunk's bytes and marks the frame complete once every
// chunk has arrived.
func (vb *videoBuffer) store(frameNum, chunkID int, data []byte) {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	slot := &vb.frames[frameNum]
	if slot.chunks[chunkID] == nil {
		slot.received++
	}
	slot.chunks[chunkID] = data
	if slot.received == len(slot.chunks) {
		slot.complete = true
	}
}

// chunksOf returns the chunk slice for frameNum if it is complete, or nil,
// false if incomplete or unallocated.
func (vb *videoBuffer) chunksOf(frameNum int) ([][]byte, bool) {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	if frameNum < 0 || frameNum >= len(vb.frames) {
		return nil, false
	}
	slot := vb.frames[frameNum]
	if !slot.complete {
		return nil, false
	}
	return slot.chunks, true
}

// markEnded records that video_end has been emitted for this video, which
// gates archival eligibility alongside the configured grace period.
func (vb *videoBuffer) markEnded() {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	vb.ended = true
}

// allFrames returns a snapshot of every complete frame's chunks, in frame
// order, for archival. Incomplete frames are skipped.
func (vb *videoBuffer) allFrames() [][][]byte {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	out := make([][][]byte, 0, len(vb.frames))
	for _, slot := range vb.frames {
		if slot.complete {
			out = append(out, slot.chunks)
		}
	}
	return out
}
