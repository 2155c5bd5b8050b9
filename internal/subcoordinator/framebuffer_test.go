package subcoordinator

import "testing"

func TestVideoBuffer_CompletesOnLastChunk(t *testing.T) {
	vb := newVideoBuffer(2)
	vb.allocate(0, 3)

	if _, ok := vb.chunksOf(0); ok {
		t.Fatalf("expected frame 0 incomplete before any chunk stored")
	}

	vb.store(0, 1, []byte("b"))
	vb.store(0, 0, []byte("a"))
	if _, ok := vb.chunksOf(0); ok {
		t.Fatalf("expected frame 0 incomplete with 2/3 chunks")
	}

	vb.store(0, 2, []byte("c"))
	chunks, ok := vb.chunksOf(0)
	if !ok {
		t.Fatalf("expected frame 0 complete")
	}
	if string(chunks[0]) != "a" || string(chunks[1]) != "b" || string(chunks[2]) != "c" {
		t.Errorf("unexpected chunk contents: %v", chunks)
	}
}

func TestVideoBuffer_ChunksOfOutOfRange(t *testing.T) {
	vb := newVideoBuffer(1)
	if _, ok := vb.chunksOf(5); ok {
		t.Errorf("expected out-of-range frame to report incomplete")
	}
}

func TestVideoBuffer_AllFramesSkipsIncomplete(t *testing.T) {
	vb := newVideoBuffer(2)
	vb.allocate(0, 1)
	vb.store(0, 0, []byte("x"))
	vb.allocate(1, 2)
	vb.store(1, 0, []byte("y"))

	frames := vb.allFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 complete frame, got %d", len(frames))
	}
}
