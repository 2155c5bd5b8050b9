package subcoordinator

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/strandcast/strandcast/internal/wire"
)

func TestReplay_ResendsCompleteFramesAndVideoEnd(t *testing.T) {
	recvConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer recvConn.Close()
	_, portStr, _ := net.SplitHostPort(recvConn.LocalAddr().String())
	port, _ := strconv.Atoi(portStr)

	s := testSubcoordinator(t)
	vb := newVideoBuffer(2)
	vb.allocate(0, 1)
	vb.store(0, 0, []byte("hello"))
	s.mu.Lock()
	s.frameBuffers[0] = vb
	s.mu.Unlock()

	reply := s.requestMissingFrames(wire.RequestMissingFramesRequest{
		Type: "requestMissingFrames", PeerName: "p0", PeerPort: port, VideoNumber: 0, MissingFrames: []int{0, 1},
	})
	if reply.Status != "ok" {
		t.Fatalf("expected status ok, got %+v", reply)
	}

	sawFrame, sawEnd := false, false
	recvConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, wire.MaxDatagramSize)
	for !sawEnd {
		n, _, err := recvConn.ReadFrom(buf)
		if err != nil {
			t.Fatalf("ReadFrom: %v", err)
		}
		tag, err := wire.DecodeDatagram(buf[:n])
		if err != nil {
			t.Fatalf("DecodeDatagram: %v", err)
		}
		switch tag.Type {
		case "video_frame":
			sawFrame = true
		case "video_end":
			sawEnd = true
		}
	}

	if !sawFrame {
		t.Errorf("expected replayed video_frame chunk for frame 0")
	}
}

func TestRequestMissingFrames_UnknownVideoStillAcknowledges(t *testing.T) {
	s := testSubcoordinator(t)
	reply := s.requestMissingFrames(wire.RequestMissingFramesRequest{VideoNumber: 99, PeerPort: 1})
	if reply.Status != "ok" {
		t.Errorf("expected status ok even for unknown video, got %+v", reply)
	}
}
