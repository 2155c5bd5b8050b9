package peer

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"

	"github.com/strandcast/strandcast/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPeer builds a Peer bound to OS-assigned ports so tests can run
// concurrently without port collisions.
func testPeer(t *testing.T) *Peer {
	t.Helper()
	cfg := &config.PeerConfig{
		Name:            "p0",
		IP:              "127.0.0.1",
		CoordinatorAddr: "127.0.0.1:1", // unused directly by these tests
		Playback:        config.PlaybackConfig{QueueSize: 10, FPS: 24},
	}
	p, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		p.dataConn.Close()
		p.ctrlLn.Close()
	})

	_, dataPortStr, _ := net.SplitHostPort(p.dataConn.LocalAddr().String())
	dataPort, _ := strconv.Atoi(dataPortStr)
	_, ctrlPortStr, _ := net.SplitHostPort(p.ctrlLn.Addr().String())
	ctrlPort, _ := strconv.Atoi(ctrlPortStr)
	p.cfg.DataPort = dataPort
	p.cfg.CtrlPort = ctrlPort

	return p
}
