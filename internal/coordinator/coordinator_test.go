package coordinator

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/strandcast/strandcast/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSubcoordinator accepts register connections and replies with an empty
// prev peer, recording every registered name.
func fakeSubcoordinator(t *testing.T) (addr string, names chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	names = make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var req wire.RegisterRequest
				if err := wire.ReadMessage(conn, &req); err != nil {
					return
				}
				names <- req.Name
				wire.WriteMessage(conn, wire.RegisterReply{})
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), names
}

// fakePeerCtrl accepts one control message per connection and always replies OK.
func fakePeerCtrl(t *testing.T) (port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.ReadAll(conn)
				wire.WriteMessage(conn, wire.ControlOKReply{Status: "OK"})
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(portStr)
	return p
}

func TestRegisterPeer_QueuesUntilBatchFull(t *testing.T) {
	c := New(3, testLogger())
	subAddr, _ := fakeSubcoordinator(t)
	_, subPort, _ := net.SplitHostPort(subAddr)
	port, _ := strconv.Atoi(subPort)
	c.registerSubcoordinator(wire.RegisterSubcoordinatorRequest{Port: port})

	ctrlPort := fakePeerCtrl(t)

	for i := 0; i < 2; i++ {
		reply := c.registerPeer(wire.RegisterPeerRequest{
			Name: nameFor(i), Port: 10000 + i, CtrlPort: ctrlPort, IP: "127.0.0.1",
		})
		if reply.Message != "queued" {
			t.Fatalf("expected queued, got %+v", reply)
		}
	}

	c.mu.Lock()
	if len(c.slots[0].queue) != 2 {
		t.Fatalf("expected 2 queued, got %d", len(c.slots[0].queue))
	}
	c.mu.Unlock()
}

func TestRegisterPeer_DispatchesFullBatch(t *testing.T) {
	c := New(2, testLogger())
	subAddr, names := fakeSubcoordinator(t)
	_, subPort, _ := net.SplitHostPort(subAddr)
	port, _ := strconv.Atoi(subPort)
	c.registerSubcoordinator(wire.RegisterSubcoordinatorRequest{Port: port})

	ctrlPort := fakePeerCtrl(t)

	for i := 0; i < 2; i++ {
		c.registerPeer(wire.RegisterPeerRequest{
			Name: nameFor(i), Port: 10000 + i, CtrlPort: ctrlPort, IP: "127.0.0.1",
		})
	}

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case n := <-names:
			seen[n] = true
		case <-timeout:
			t.Fatalf("timed out waiting for dispatch, got %v", seen)
		}
	}

	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		strandLen := len(c.slots[0].strand)
		bufferVal := c.slots[0].buffer
		c.mu.Unlock()
		if strandLen == 2 && bufferVal == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected strand to fill and buffer to reset, strand=%d buffer=%d", strandLen, bufferVal)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRegisterPeer_RejectsWhenNoSlots(t *testing.T) {
	c := New(3, testLogger())
	reply := c.registerPeer(wire.RegisterPeerRequest{Name: "lonely", Port: 1, CtrlPort: 2, IP: "127.0.0.1"})
	if reply.Message != "full" {
		t.Errorf("expected full, got %+v", reply)
	}
}

func TestStatusDone_ReturnsQueueLength(t *testing.T) {
	c := New(5, testLogger())
	subAddr, _ := fakeSubcoordinator(t)
	_, subPort, _ := net.SplitHostPort(subAddr)
	port, _ := strconv.Atoi(subPort)
	c.registerSubcoordinator(wire.RegisterSubcoordinatorRequest{Port: port})

	ctrlPort := fakePeerCtrl(t)
	c.registerPeer(wire.RegisterPeerRequest{Name: "p0", Port: 1, CtrlPort: ctrlPort, IP: "127.0.0.1"})

	c.mu.Lock()
	c.slots[0].buffer = 0
	c.mu.Unlock()

	reply := c.statusDone(wire.StatusDoneRequest{Action: "status", Status: "done", Port: port})
	if reply.Buffer != 1 {
		t.Errorf("expected buffer=1, got %d", reply.Buffer)
	}
}

func nameFor(i int) string {
	return string(rune('a' + i))
}
