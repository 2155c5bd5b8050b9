package subcoordinator

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/strandcast/strandcast/internal/wire"
)

func TestStreamOneVideo_SendsChunksAndVideoEnd(t *testing.T) {
	recvConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer recvConn.Close()

	_, portStr, _ := net.SplitHostPort(recvConn.LocalAddr().String())
	port, _ := strconv.Atoi(portStr)

	s := testSubcoordinator(t)
	s.peers = []wire.PeerRecord{{Name: "p0", Port: port, CtrlPort: port + 10000, IP: "127.0.0.1"}}

	videoPath := t.TempDir() + "/video.txt"
	if err := os.WriteFile(videoPath, []byte("3"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s.cfg.Videos = []string{videoPath}

	done := make(chan error, 1)
	go func() { done <- s.streamOneVideo(context.Background(), 0) }()

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
		t.Errorf("expected at least one video_frame chunk")
	}

	if err := <-done; err != nil {
		t.Fatalf("streamOneVideo: %v", err)
	}

	if _, ok := s.frameBuffers[0].chunksOf(0); !ok {
		t.Errorf("expected frame 0 to be complete in the buffer")
	}
}
