// Package subcoordinator implements the process that owns one strand: it
// admits peers forwarded by the Coordinator, wires their next-hop topology,
// streams source videos frame-by-frame down the strand, and serves
// out-of-band chunk replay for missing frames.
package subcoordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/strandcast/strandcast/internal/config"
	"github.com/strandcast/strandcast/internal/media"
	"github.com/strandcast/strandcast/internal/wire"
)

// dialTimeout bounds outbound dials to peer control ports.
const dialTimeout = 5 * time.Second

// Subcoordinator owns one strand, its frame buffers, and its streaming
// state. peers, frameBuffers, fileCount, and videoStreaming are guarded by
// one mutex, per the concurrency model.
type Subcoordinator struct {
	mu             sync.Mutex
	peers          []wire.PeerRecord
	frameBuffers   map[int]*videoBuffer
	fileCount      int
	videoStreaming bool

	selfPort        int
	coordinatorAddr string
	cfg             *config.SubcoordinatorConfig
	logger          *slog.Logger

	encoder    media.Encoder
	compressor *media.Compressor
	limiter    *rate.Limiter
	archiver   *archiver

	dataConn net.PacketConn
}

// New builds a Subcoordinator ready to accept connections on selfPort.
func New(cfg *config.SubcoordinatorConfig, selfPort int, logger *slog.Logger) (*Subcoordinator, error) {
	dataConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("subcoordinator: opening data socket: %w", err)
	}

	interval := cfg.Streaming.InterChunkGap
	if interval <= 0 {
		interval = config.DefaultInterChunkGap
	}

	s := &Subcoordinator{
		frameBuffers:    make(map[int]*videoBuffer),
		selfPort:        selfPort,
		coordinatorAddr: cfg.CoordinatorAddr,
		cfg:             cfg,
		logger:          logger,
		encoder:         media.JPEGEncoder{},
		compressor:      media.NewCompressor(-1),
		limiter:         rate.NewLimiter(rate.Every(interval), 1),
		dataConn:        dataConn,
	}

	if cfg.Archive.Enabled {
		a, err := newArchiver(cfg.Archive, logger)
		if err != nil {
			return nil, fmt.Errorf("subcoordinator: configuring archiver: %w", err)
		}
		s.archiver = a
	}

	return s, nil
}

// Run starts the Subcoordinator: registers with the Coordinator, serves the
// strand wire contract until ctx is cancelled, and drives the streaming
// pipeline.
func Run(ctx context.Context, cfg *config.SubcoordinatorConfig, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("subcoordinator: listening on %s: %w", cfg.Listen.Address, err)
	}
	defer ln.Close()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return fmt.Errorf("subcoordinator: parsing listen port: %w", err)
	}
	var selfPort int
	if _, err := fmt.Sscanf(portStr, "%d", &selfPort); err != nil {
		return fmt.Errorf("subcoordinator: parsing listen port: %w", err)
	}

	s, err := New(cfg, selfPort, logger)
	if err != nil {
		return err
	}
	defer s.dataConn.Close()

	if err := s.registerWithCoordinator(); err != nil {
		return fmt.Errorf("subcoordinator: registering with coordinator: %w", err)
	}

	logger.Info("subcoordinator listening", "address", cfg.Listen.Address, "port", selfPort)

	if cfg.CLI.Enabled {
		go s.RunCLI(ctx, os.Stdin, os.Stdout)
	}

	var diag *cron.Cron
	if cfg.Diagnostics.Enabled {
		diag = cron.New()
		if _, err := diag.AddFunc(cfg.Diagnostics.Schedule, func() { s.logSnapshot() }); err != nil {
			return fmt.Errorf("subcoordinator: scheduling diagnostics: %w", err)
		}
		diag.Start()
		defer diag.Stop()
	}

	go func() {
		<-ctx.Done()
		logger.Info("subcoordinator shutting down")
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				consecutiveErrors++
				logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}
		consecutiveErrors = 0
		go s.handleConn(ctx, conn)
	}
}

func (s *Subcoordinator) registerWithCoordinator() error {
	conn, err := net.DialTimeout("tcp", s.coordinatorAddr, dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := wire.RegisterSubcoordinatorRequest{Action: "register", Type: "subcoordinator", Port: s.selfPort}
	if err := wire.WriteMessage(conn, req); err != nil {
		return err
	}
	var reply wire.RegisterSubcoordinatorReply
	return wire.ReadMessage(conn, &reply)
}

func (s *Subcoordinator) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	data, tag, err := wire.PeekEnvelope(conn)
	if err != nil {
		s.logger.Error("subcoordinator: reading envelope", "error", err)
		return
	}

	switch tag.Type {
	case "register":
		var req wire.RegisterRequest
		if err := wire.Decode(data, &req); err != nil {
			s.logger.Error("subcoordinator: decoding register", "error", err)
			return
		}
		reply := s.register(ctx, req)
		wire.WriteMessage(conn, reply)

	case "deliveryDone":
		reply := s.deliveryDone()
		wire.WriteMessage(conn, reply)

	case "lookup":
		var req wire.LookupRequest
		if err := wire.Decode(data, &req); err != nil {
			s.logger.Error("subcoordinator: decoding lookup", "error", err)
			return
		}
		wire.WriteMessage(conn, s.lookup(req))

	case "list":
		var req wire.ListRequest
		if err := wire.Decode(data, &req); err != nil {
			s.logger.Error("subcoordinator: decoding list", "error", err)
			return
		}
		wire.WriteMessage(conn, s.list(req))

	case "requestMissingFrames":
		var req wire.RequestMissingFramesRequest
		if err := wire.Decode(data, &req); err != nil {
			s.logger.Error("subcoordinator: decoding requestMissingFrames", "error", err)
			return
		}
		wire.WriteMessage(conn, s.requestMissingFrames(req))

	default:
		s.logger.Warn("subcoordinator: unrecognized envelope type", "type", tag.Type)
	}
}

// logSnapshot records strand size, the number of buffered videos, and
// whether a video is currently streaming as a structured diagnostics line.
func (s *Subcoordinator) logSnapshot() {
	s.mu.Lock()
	peers := len(s.peers)
	videos := len(s.frameBuffers)
	streaming := s.videoStreaming
	s.mu.Unlock()

	s.logger.Info("subcoordinator diagnostics",
		"peers", peers,
		"buffered_videos", videos,
		"streaming", streaming,
	)
}
