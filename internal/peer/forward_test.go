package peer

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/strandcast/strandcast/internal/wire"
)

// liveCtrlPeer starts a control listener that always replies OK to ack.
func liveCtrlPeer(t *testing.T) int {
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
				_, _, err := wire.PeekEnvelope(conn)
				if err != nil {
					return
				}
				wire.WriteMessage(conn, wire.ControlOKReply{Status: "OK"})
			}()
		}
	}()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

func TestForwardDatagram_FailsOverToSecondCandidate(t *testing.T) {
	p := testPeer(t)

	recvConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer recvConn.Close()
	_, dataPortStr, _ := net.SplitHostPort(recvConn.LocalAddr().String())
	dataPort, _ := strconv.Atoi(dataPortStr)

	liveCtrl := liveCtrlPeer(t)

	deadPort := 1 // nothing listens here; dial should fail or time out quickly

	p.mu.Lock()
	p.nextPeers = []wire.PeerRecord{
		{Name: "dead", IP: "127.0.0.1", Port: deadPort, CtrlPort: deadPort},
		{Name: "alive", IP: "127.0.0.1", Port: dataPort, CtrlPort: liveCtrl},
	}
	p.mu.Unlock()

	p.forwardDatagram(wire.VideoEnd{Type: "video_end", VideoNumber: 0, FrameNum: 0})

	recvConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, wire.MaxDatagramSize)
	n, _, err := recvConn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("expected forwarded datagram after failover, got error: %v", err)
	}
	tag, err := wire.DecodeDatagram(buf[:n])
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if tag.Type != "video_end" {
		t.Errorf("expected video_end, got %q", tag.Type)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.nextPeers) != 1 || p.nextPeers[0].Name != "alive" {
		t.Errorf("expected dead candidate popped, nextPeers=%+v", p.nextPeers)
	}
}
