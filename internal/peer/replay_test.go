package peer

import (
	"image"
	"net"
	"testing"

	"github.com/strandcast/strandcast/internal/wire"
)

// fakeSubcoordinator replies to requestMissingFrames and deliveryDone.
func fakeSubcoordinator(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				data, tag, err := wire.PeekEnvelope(conn)
				if err != nil {
					return
				}
				switch tag.Type {
				case "requestMissingFrames":
					wire.WriteMessage(conn, wire.RequestMissingFramesReply{Status: "ok"})
				case "deliveryDone":
					wire.WriteMessage(conn, wire.DeliveryDoneReply{Status: "acknowledged"})
				default:
					_ = data
				}
			}()
		}
	}()

	return ln.Addr().String()
}

func TestRequestMissingFrames_SendsExpectedPayload(t *testing.T) {
	p := testPeer(t)
	p.subcoordinatorAddr = fakeSubcoordinator(t)

	if err := p.requestMissingFrames(3, []int{1, 2}); err != nil {
		t.Fatalf("requestMissingFrames: %v", err)
	}
}

func TestMissingFrames_ReportsGapsOnly(t *testing.T) {
	vs := newVideoState()
	vs.totalFrames = 3
	vs.received[0] = true
	vs.received[2] = true

	missing := missingFrames(vs)
	if len(missing) != 1 || missing[0] != 1 {
		t.Errorf("expected missing=[1], got %v", missing)
	}
}

func TestHandleVideoEnd_CompleteVideoMarkedReadyAndFlushed(t *testing.T) {
	p := testPeer(t)
	p.subcoordinatorAddr = fakeSubcoordinator(t)

	p.mu.Lock()
	vs := newVideoState()
	vs.totalFrames = 1
	vs.received[0] = true
	p.videos[0] = vs
	p.mu.Unlock()

	p.handleVideoEnd(nil, wire.VideoEnd{Type: "video_end", VideoNumber: 0, FrameNum: 0})

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.videos[0].ready {
		t.Errorf("expected video 0 marked ready")
	}
	if p.nextVideoToFlush != 1 {
		t.Errorf("expected nextVideoToFlush=1, got %d", p.nextVideoToFlush)
	}
}

// TestFlushReadyQueue_HoldsLaterVideoUntilEarlierIsReady covers the ordered
// playback invariant from §8 scenario 6: video 1 finishing reassembly after
// video 0 must never let video 0's flush be skipped or reordered behind it.
func TestFlushReadyQueue_HoldsLaterVideoUntilEarlierIsReady(t *testing.T) {
	p := testPeer(t)

	p.mu.Lock()
	v1 := newVideoState()
	v1.totalFrames = 2
	v1.received[0] = true
	v1.received[1] = true
	v1.frames[0] = blankImage()
	v1.frames[1] = blankImage()
	v1.ready = true
	p.videos[1] = v1

	v0 := newVideoState()
	v0.totalFrames = 2
	v0.received[0] = true
	// video 0, frame 1 still missing: not ready yet.
	v0.frames[0] = blankImage()
	p.videos[0] = v0

	p.flushReadyQueue()
	flushedBeforeRepair := p.nextVideoToFlush
	p.mu.Unlock()

	if flushedBeforeRepair != 0 {
		t.Fatalf("expected nextVideoToFlush to stay at 0 while video 0 is incomplete, got %d", flushedBeforeRepair)
	}
	select {
	case f := <-p.playback.frames:
		t.Fatalf("expected no frames flushed while video 0 is pending, got %+v", f)
	default:
	}

	// Video 0 gets repaired and marked ready; now both videos flush, in order.
	p.mu.Lock()
	v0.received[1] = true
	v0.frames[1] = blankImage()
	v0.ready = true
	p.flushReadyQueue()
	p.mu.Unlock()

	var got []playbackFrame
	for i := 0; i < 4; i++ {
		got = append(got, <-p.playback.frames)
	}
	for i, f := range got[:2] {
		if f.VideoNumber != 0 || f.FrameNum != i {
			t.Errorf("frame %d: expected video 0 frame %d, got %+v", i, i, f)
		}
	}
	for i, f := range got[2:] {
		if f.VideoNumber != 1 || f.FrameNum != i {
			t.Errorf("frame %d: expected video 1 frame %d, got %+v", i, i, f)
		}
	}
}

func blankImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 1, 1))
}
