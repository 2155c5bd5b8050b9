// Package coordinator implements the root admission process: it registers
// Subcoordinators, queues incoming peers, and dispatches them in
// batch-sized groups once a slot fills.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strandcast/strandcast/internal/config"
	"github.com/strandcast/strandcast/internal/wire"
)

// dialTimeout bounds the Coordinator's outbound dials to Subcoordinators and
// peer control ports during batch dispatch.
const dialTimeout = 5 * time.Second

// slot holds the per-Subcoordinator bookkeeping: how many more peers it may
// currently accept (buffer), the peers waiting for the next batch (queue),
// and every peer dispatched so far (strand), for diagnostics.
type slot struct {
	addr   string
	buffer int
	queue  []wire.PeerRecord
	strand []wire.PeerRecord
}

// Coordinator holds the global admission state described in §4.1: parallel
// arrays indexed by Subcoordinator slot, guarded by one coarse mutex.
type Coordinator struct {
	mu                  sync.Mutex
	slots               []*slot
	batchSize           int
	allStrandsHavePeers bool

	logger *slog.Logger
}

// New creates an empty Coordinator with the given batch size B.
func New(batchSize int, logger *slog.Logger) *Coordinator {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	return &Coordinator{
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run listens on addr, serves the admission wire contract until ctx is
// cancelled, and (if cfg.Diagnostics.Enabled) runs the periodic snapshot
// job alongside it.
func Run(ctx context.Context, cfg *config.CoordinatorConfig, logger *slog.Logger) error {
	c := New(cfg.BatchSize, logger)

	ln, err := net.Listen("tcp", cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("coordinator: listening on %s: %w", cfg.Listen.Address, err)
	}
	defer ln.Close()

	logger.Info("coordinator listening", "address", cfg.Listen.Address, "batch_size", c.batchSize)

	var diag *cron.Cron
	if cfg.Diagnostics.Enabled {
		diag = cron.New()
		if _, err := diag.AddFunc(cfg.Diagnostics.Schedule, func() { c.logSnapshot() }); err != nil {
			return fmt.Errorf("coordinator: scheduling diagnostics: %w", err)
		}
		diag.Start()
		defer diag.Stop()
	}

	go func() {
		<-ctx.Done()
		logger.Info("coordinator shutting down")
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
		go c.handleConn(conn)
	}
}

func (c *Coordinator) handleConn(conn net.Conn) {
	defer conn.Close()

	data, tag, err := wire.PeekEnvelope(conn)
	if err != nil {
		c.logger.Error("coordinator: reading envelope", "error", err)
		return
	}

	switch {
	case tag.Action == "register" && tag.Type == "subcoordinator":
		var req wire.RegisterSubcoordinatorRequest
		if err := wire.Decode(data, &req); err != nil {
			c.logger.Error("coordinator: decoding subcoordinator registration", "error", err)
			return
		}
		c.registerSubcoordinator(req)

	case tag.Action == "register" && tag.Type == "peer":
		var req wire.RegisterPeerRequest
		if err := wire.Decode(data, &req); err != nil {
			c.logger.Error("coordinator: decoding peer registration", "error", err)
			return
		}
		reply := c.registerPeer(req)
		if err := writeJSON(conn, reply); err != nil {
			c.logger.Error("coordinator: writing peer registration reply", "error", err)
		}

	case tag.Action == "status" && tag.Status == "done":
		var req wire.StatusDoneRequest
		if err := wire.Decode(data, &req); err != nil {
			c.logger.Error("coordinator: decoding status done", "error", err)
			return
		}
		reply := c.statusDone(req)
		if err := writeJSON(conn, reply); err != nil {
			c.logger.Error("coordinator: writing status done reply", "error", err)
		}

	default:
		c.logger.Warn("coordinator: unrecognized envelope", "action", tag.Action, "type", tag.Type, "status", tag.Status)
	}
}

func writeJSON(conn net.Conn, v any) error {
	return wire.WriteMessage(conn, v)
}

// registerSubcoordinator appends a new slot with buffer=B, an empty queue,
// and an empty strand.
func (c *Coordinator) registerSubcoordinator(req wire.RegisterSubcoordinatorRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := fmt.Sprintf("127.0.0.1:%d", req.Port)
	c.slots = append(c.slots, &slot{addr: addr, buffer: c.batchSize})
	c.logger.Info("subcoordinator registered", "port", req.Port, "slot", len(c.slots)-1)
}

// registerPeer scans slots in order and admits the peer into the first one
// not currently saturated, per the admission policy in §4.1.
func (c *Coordinator) registerPeer(req wire.RegisterPeerRequest) wire.RegisterPeerReply {
	c.mu.Lock()

	rec := wire.PeerRecord{Name: req.Name, Port: req.Port, CtrlPort: req.CtrlPort, IP: req.IP}

	var admitted *int
	for i, s := range c.slots {
		saturated := false
		if !c.allStrandsHavePeers {
			saturated = !(s.buffer > 0 && len(s.queue) < c.batchSize)
		} else {
			saturated = !(len(s.queue) < c.batchSize)
		}
		if !saturated {
			s.queue = append(s.queue, rec)
			idx := i
			admitted = &idx
			break
		}
	}

	if admitted == nil {
		c.mu.Unlock()
		c.logger.Warn("peer registration rejected: no available slot", "peer", req.Name)
		return wire.RegisterPeerReply{Message: "full"}
	}

	i := *admitted
	s := c.slots[i]
	readyToDispatch := s.buffer > 0 && len(s.queue) == s.buffer

	// Resolved Open Question: all_strands_have_peers flips when the last
	// configured slot takes its first-ever batch.
	firstBatchForLastSlot := readyToDispatch && i+1 == len(c.slots) && len(s.strand) == 0

	c.mu.Unlock()

	c.logger.Info("peer registered", "peer", req.Name, "slot", i)

	if readyToDispatch {
		go c.dispatchBatch(i, firstBatchForLastSlot)
	}

	return wire.RegisterPeerReply{Message: "queued"}
}

// statusDone implements the readiness round-trip: the Subcoordinator is
// told it may take whatever is currently queued for it.
func (c *Coordinator) statusDone(req wire.StatusDoneRequest) wire.StatusDoneReply {
	c.mu.Lock()

	idx := c.slotIndexByPort(req.Port)
	if idx < 0 {
		c.mu.Unlock()
		c.logger.Warn("status done from unknown subcoordinator", "port", req.Port)
		return wire.StatusDoneReply{Buffer: 0}
	}

	s := c.slots[idx]
	s.buffer = len(s.queue)
	n := s.buffer
	c.mu.Unlock()

	c.logger.Info("subcoordinator ready for more peers", "slot", idx, "buffer", n)

	if n > 0 {
		go c.dispatchBatch(idx, false)
	}

	return wire.StatusDoneReply{Buffer: n}
}

func (c *Coordinator) slotIndexByPort(port int) int {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for i, s := range c.slots {
		if s.addr == addr {
			return i
		}
	}
	return -1
}

// dispatchBatch drains slot i's queue and forwards each peer to the owning
// Subcoordinator, then wires each peer's control port with SUBCOORDINATOR_INFO.
// On failure it re-queues the batch at the head of the slot's queue (the
// resolved Open Question in SPEC_FULL.md §9) rather than dropping peers.
func (c *Coordinator) dispatchBatch(i int, firstBatchForLastSlot bool) {
	c.mu.Lock()
	s := c.slots[i]
	if len(s.queue) == 0 || s.buffer == 0 {
		c.mu.Unlock()
		return
	}
	batch := s.queue
	s.queue = nil
	addr := s.addr
	c.mu.Unlock()

	if err := c.dispatchPeers(addr, batch); err != nil {
		c.logger.Error("batch dispatch failed, re-queueing", "slot", i, "peers", peerNames(batch), "error", err)
		c.mu.Lock()
		s.queue = append(batch, s.queue...)
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	s.strand = append(s.strand, batch...)
	s.buffer = 0
	if firstBatchForLastSlot {
		c.allStrandsHavePeers = true
	}
	c.mu.Unlock()

	c.logger.Info("batch dispatched", "slot", i, "peers", peerNames(batch))
}

// dispatchPeers registers each peer with the Subcoordinator in order, then
// sends each one a SUBCOORDINATOR_INFO control message naming the
// Subcoordinator and (for all but the batch's first peer) its immediate
// predecessor.
func (c *Coordinator) dispatchPeers(subAddr string, batch []wire.PeerRecord) error {
	subPort, err := portOf(subAddr)
	if err != nil {
		return err
	}

	for idx, peer := range batch {
		conn, err := net.DialTimeout("tcp", subAddr, dialTimeout)
		if err != nil {
			return fmt.Errorf("dialing subcoordinator %s: %w", subAddr, err)
		}
		req := wire.RegisterRequest{Type: "register", Name: peer.Name, Port: peer.Port, CtrlPort: peer.CtrlPort, IP: peer.IP}
		if err := wire.WriteMessage(conn, req); err != nil {
			conn.Close()
			return fmt.Errorf("registering peer %s with subcoordinator: %w", peer.Name, err)
		}
		var reply wire.RegisterReply
		err = wire.ReadMessage(conn, &reply)
		conn.Close()
		if err != nil {
			return fmt.Errorf("reading register reply for peer %s: %w", peer.Name, err)
		}

		info := wire.SubcoordinatorInfoRequest{Cmd: "SUBCOORDINATOR_INFO", SubcoordinatorPort: subPort}
		if idx > 0 {
			prev := batch[idx-1]
			info.PrevPeer = &wire.PrevPeer{Name: prev.Name, Port: prev.Port}
		} else if !reply.Prev.Empty() {
			info.PrevPeer = &wire.PrevPeer{Name: reply.Prev.Name, Port: reply.Prev.Port}
		}

		ctrlAddr := fmt.Sprintf("%s:%d", peer.IP, peer.CtrlPort)
		ctrlConn, err := net.DialTimeout("tcp", ctrlAddr, dialTimeout)
		if err != nil {
			return fmt.Errorf("dialing peer %s control port: %w", peer.Name, err)
		}
		if err := wire.WriteMessage(ctrlConn, info); err != nil {
			ctrlConn.Close()
			return fmt.Errorf("sending subcoordinator info to peer %s: %w", peer.Name, err)
		}
		var ok wire.ControlOKReply
		err = wire.ReadMessage(ctrlConn, &ok)
		ctrlConn.Close()
		if err != nil {
			return fmt.Errorf("reading control ack from peer %s: %w", peer.Name, err)
		}
	}

	return nil
}

func portOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return 0, err
	}
	return port, nil
}

func peerNames(batch []wire.PeerRecord) []string {
	names := make([]string, len(batch))
	for i, p := range batch {
		names[i] = p.Name
	}
	return names
}

// logSnapshot records a structured diagnostics line for every slot: its
// current buffer, queue length, and strand length. This is an operational
// aid, not part of the admission algorithm.
func (c *Coordinator) logSnapshot() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.slots {
		c.logger.Info("coordinator diagnostics",
			"slot", i,
			"buffer", s.buffer,
			"queue_len", len(s.queue),
			"strand_len", len(s.strand),
		)
	}
}
