package subcoordinator

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/strandcast/strandcast/internal/config"
	"github.com/strandcast/strandcast/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSubcoordinator(t *testing.T) *Subcoordinator {
	t.Helper()
	cfg := &config.SubcoordinatorConfig{
		Videos:    []string{"demo.txt"},
		BatchSize: config.DefaultBatchSize,
		Streaming: config.StreamingConfig{
			JPEGQuality:  40,
			MaxChunkSize: config.DefaultMaxChunkSize,
		},
	}
	s, err := New(cfg, 9999, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.dataConn.Close() })
	return s
}

// fakePeerCtrl accepts control connections and records each decoded cmd.
func fakePeerCtrl(t *testing.T) (port int, cmds chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cmds = make(chan string, 16)
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
				_ = data
				cmds <- tag.Cmd
				wire.WriteMessage(conn, wire.ControlOKReply{Status: "OK"})
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(portStr)
	return p, cmds
}

func TestRegister_FirstPeerHasNoPrev(t *testing.T) {
	s := testSubcoordinator(t)
	ctrlPort, _ := fakePeerCtrl(t)

	reply := s.register(context.Background(), wire.RegisterRequest{Type: "register", Name: "p0", Port: 1, CtrlPort: ctrlPort, IP: "127.0.0.1"})
	if !reply.Prev.Empty() {
		t.Errorf("expected empty prev for first peer, got %+v", reply.Prev)
	}
}

func TestRegister_SubsequentPeerGetsPrevAndFanout(t *testing.T) {
	s := testSubcoordinator(t)
	ctrlPort, cmds := fakePeerCtrl(t)

	s.register(context.Background(), wire.RegisterRequest{Type: "register", Name: "p0", Port: 1, CtrlPort: ctrlPort, IP: "127.0.0.1"})
	reply := s.register(context.Background(), wire.RegisterRequest{Type: "register", Name: "p1", Port: 2, CtrlPort: ctrlPort, IP: "127.0.0.1"})

	if reply.Prev.Name != "p0" {
		t.Errorf("expected prev=p0, got %+v", reply.Prev)
	}

	select {
	case cmd := <-cmds:
		if cmd != "UPDATE_NEXT" {
			t.Errorf("expected UPDATE_NEXT, got %q", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for UPDATE_NEXT")
	}
}

func TestLookup_RejectsUnknownRequester(t *testing.T) {
	s := testSubcoordinator(t)
	ctrlPort, _ := fakePeerCtrl(t)
	s.register(context.Background(), wire.RegisterRequest{Type: "register", Name: "p0", Port: 1, CtrlPort: ctrlPort, IP: "127.0.0.1"})

	reply := s.lookup(wire.LookupRequest{Type: "lookup", Name: "p0", Requester: "stranger"})
	if reply.Error != "unauthorized" {
		t.Errorf("expected unauthorized, got %+v", reply)
	}
}

func TestLookup_ReturnsRecordForKnownRequester(t *testing.T) {
	s := testSubcoordinator(t)
	ctrlPort, _ := fakePeerCtrl(t)
	s.register(context.Background(), wire.RegisterRequest{Type: "register", Name: "p0", Port: 1, CtrlPort: ctrlPort, IP: "127.0.0.1"})

	reply := s.lookup(wire.LookupRequest{Type: "lookup", Name: "p0", Requester: "p0"})
	if reply.Error != "" || reply.Name != "p0" {
		t.Errorf("expected record for p0, got %+v", reply)
	}
}

func TestList_ReturnsAllPeersForKnownRequester(t *testing.T) {
	s := testSubcoordinator(t)
	ctrlPort, _ := fakePeerCtrl(t)
	s.register(context.Background(), wire.RegisterRequest{Type: "register", Name: "p0", Port: 1, CtrlPort: ctrlPort, IP: "127.0.0.1"})
	s.register(context.Background(), wire.RegisterRequest{Type: "register", Name: "p1", Port: 2, CtrlPort: ctrlPort, IP: "127.0.0.1"})

	reply := s.list(wire.ListRequest{Type: "list", Requester: "p1"})
	if len(reply.Peers) != 2 {
		t.Errorf("expected 2 peers, got %d", len(reply.Peers))
	}
}

// TestRegister_DoesNotStartStreamingBeforeFirstBatchFull guards the §4.2
// gate: streaming must wait for the strand's first full batch (B peers),
// not fire on the first registrant alone.
func TestRegister_DoesNotStartStreamingBeforeFirstBatchFull(t *testing.T) {
	s := testSubcoordinator(t)
	s.cfg.BatchSize = 2
	ctrlPort, _ := fakePeerCtrl(t)

	recvConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer recvConn.Close()
	_, portStr, _ := net.SplitHostPort(recvConn.LocalAddr().String())
	dataPort, _ := strconv.Atoi(portStr)

	s.register(context.Background(), wire.RegisterRequest{Type: "register", Name: "p0", Port: dataPort, CtrlPort: ctrlPort, IP: "127.0.0.1"})

	recvConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, wire.MaxDatagramSize)
	if _, _, err := recvConn.ReadFrom(buf); err == nil {
		t.Fatalf("expected no streaming before the first batch is full")
	}
}

// TestRegister_StartsStreamingOnceFirstBatchFull is the positive case: once
// the B-th peer registers, the head of the strand starts receiving frames.
func TestRegister_StartsStreamingOnceFirstBatchFull(t *testing.T) {
	s := testSubcoordinator(t)
	s.cfg.BatchSize = 2
	ctrlPort, _ := fakePeerCtrl(t)

	recvConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer recvConn.Close()
	_, portStr, _ := net.SplitHostPort(recvConn.LocalAddr().String())
	dataPort, _ := strconv.Atoi(portStr)

	s.register(context.Background(), wire.RegisterRequest{Type: "register", Name: "p0", Port: dataPort, CtrlPort: ctrlPort, IP: "127.0.0.1"})
	s.register(context.Background(), wire.RegisterRequest{Type: "register", Name: "p1", Port: 2, CtrlPort: ctrlPort, IP: "127.0.0.1"})

	recvConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, wire.MaxDatagramSize)
	n, _, err := recvConn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("expected streaming to start once the first batch filled: %v", err)
	}
	tag, err := wire.DecodeDatagram(buf[:n])
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if tag.Type != "video_frame" {
		t.Errorf("expected video_frame, got %q", tag.Type)
	}
}
