// Package peer implements the StrandCast Peer process: the leaf node that
// receives chunked video frames from its upstream neighbor, reassembles and
// displays them, and forwards every chunk on to the next peer in the strand.
package peer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/strandcast/strandcast/internal/config"
	"github.com/strandcast/strandcast/internal/media"
	"github.com/strandcast/strandcast/internal/wire"
)

const (
	registerRetryDelay = 2 * time.Second
	ackDialTimeout     = 2 * time.Second
	ctrlWriteTimeout   = 5 * time.Second
)

// videoState tracks reassembly progress for one video. Decoded frames land
// in frames (the per-peer slice of all_collections for this video number)
// as soon as they are individually reassembled; they are only handed to the
// playback queue in bulk, in frame order, once the whole video is flushed —
// see flushReadyQueue.
type videoState struct {
	chunks      map[int][][]byte    // frame_num -> chunk slots (nil = missing chunk)
	received    map[int]bool        // frame_num -> fully reassembled
	frames      map[int]image.Image // frame_num -> decoded frame, kept after flush
	totalFrames int                 // -1 until known (first video_frame or video_end)
	ready       bool                // completeness-checked, eligible for flush
	flushed     bool                // frames handed to the playback queue
}

func newVideoState() *videoState {
	return &videoState{
		chunks:      make(map[int][][]byte),
		received:    make(map[int]bool),
		frames:      make(map[int]image.Image),
		totalFrames: -1,
	}
}

// Peer holds all per-process state. frame reassembly maps, the failover
// candidate list, and the playback queue are mutated from both the UDP
// receive goroutine and the TCP control goroutine, so every access goes
// through mu.
type Peer struct {
	mu sync.Mutex

	name string
	cfg  *config.PeerConfig

	logger *slog.Logger

	dataConn net.PacketConn
	ctrlLn   net.Listener

	coordinatorAddr    string // overridable via the operator CLI's REASSIGN command
	subcoordinatorAddr string
	prevPeer           *wire.PrevPeer
	nextPeers          []wire.PeerRecord

	videos           map[int]*videoState
	nextVideoToFlush int

	seenText map[string]bool // dedup key: "origin|seq"

	encoder    media.Encoder
	compressor *media.Compressor
	renderer   media.Renderer
	playback   *playbackQueue
	monitor    *SystemMonitor
}

// New wires up a Peer's sockets and collaborators but does not yet talk to
// the Coordinator or start any loop.
func New(cfg *config.PeerConfig, logger *slog.Logger) (*Peer, error) {
	dataConn, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", cfg.IP, cfg.DataPort))
	if err != nil {
		return nil, fmt.Errorf("peer: opening data socket: %w", err)
	}

	ctrlLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.IP, cfg.CtrlPort))
	if err != nil {
		dataConn.Close()
		return nil, fmt.Errorf("peer: opening control listener: %w", err)
	}

	var renderer media.Renderer
	if cfg.FrameDumpDir != "" {
		renderer, err = media.NewFileDumpRenderer(cfg.FrameDumpDir)
		if err != nil {
			dataConn.Close()
			ctrlLn.Close()
			return nil, err
		}
	} else {
		renderer = media.NullRenderer{}
	}

	p := &Peer{
		name:            cfg.Name,
		cfg:             cfg,
		logger:          logger,
		dataConn:        dataConn,
		ctrlLn:          ctrlLn,
		coordinatorAddr: cfg.CoordinatorAddr,
		videos:          make(map[int]*videoState),
		seenText:        make(map[string]bool),
		encoder:         media.JPEGEncoder{},
		compressor:      media.NewCompressor(-1),
		renderer:        renderer,
		playback:        newPlaybackQueue(cfg.Playback.QueueSize),
		monitor:         NewSystemMonitor(logger),
	}
	return p, nil
}

// Run starts all of a Peer's concurrent activities and blocks until ctx is
// cancelled. It registers with the Coordinator, then serves the UDP data
// plane, the TCP control plane, and the ordered playback loop concurrently.
func Run(ctx context.Context, cfg *config.PeerConfig, logger *slog.Logger) error {
	p, err := New(cfg, logger)
	if err != nil {
		return err
	}
	defer p.dataConn.Close()
	defer p.ctrlLn.Close()
	defer p.renderer.Close()

	p.monitor.Start()
	defer p.monitor.Stop()

	if err := p.registerWithCoordinator(ctx); err != nil {
		return fmt.Errorf("peer: registering with coordinator: %w", err)
	}

	go p.acceptControl(ctx)
	go p.recvLoop(ctx)
	p.playbackLoop(ctx)

	return nil
}

// errCoordinatorFull is returned when the Coordinator rejects the peer
// because no slot can take it.
var errCoordinatorFull = errors.New("coordinator reports full")

// registerWithCoordinator sends the initial RegisterPeerRequest, retrying
// with a fixed backoff while the Coordinator is unreachable. A "full" reply
// is not retried: it is returned as errCoordinatorFull. Otherwise it returns
// once queued, or when ctx is cancelled.
func (p *Peer) registerWithCoordinator(ctx context.Context) error {
	for {
		err := p.tryRegister()
		if err == nil {
			return nil
		}
		if errors.Is(err, errCoordinatorFull) {
			return err
		}
		p.logger.Warn("registration attempt failed, retrying", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(registerRetryDelay):
		}
	}
}

func (p *Peer) tryRegister() error {
	p.mu.Lock()
	addr := p.coordinatorAddr
	p.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, ackDialTimeout)
	if err != nil {
		return fmt.Errorf("dialing coordinator: %w", err)
	}
	defer conn.Close()

	req := wire.RegisterPeerRequest{
		Action: "register", Type: "peer",
		Name: p.cfg.Name, Port: p.cfg.DataPort, CtrlPort: p.cfg.CtrlPort, IP: p.cfg.IP,
	}
	if err := wire.WriteMessage(conn, req); err != nil {
		return err
	}
	var reply wire.RegisterPeerReply
	if err := wire.ReadMessage(conn, &reply); err != nil {
		return err
	}
	if reply.Message == "full" {
		return errCoordinatorFull
	}
	p.logger.Info("registered with coordinator", "message", reply.Message)
	return nil
}
