package subcoordinator

import (
	"context"
	"fmt"
	"net"

	"github.com/strandcast/strandcast/internal/wire"
)

// updateNextFanout is the number of most-recent prior peers that receive an
// UPDATE_NEXT when a new peer joins the strand, per §4.2's topology wiring.
const updateNextFanout = 3

// register appends peer to the strand, replies with the immediately
// preceding peer (or the zero record if this is the new head), fans out
// UPDATE_NEXT to the most recent prior peers, and kicks off streaming the
// first video once the first full batch (size B) has registered, matching
// the original's `COUNT == BUFFER` gate.
func (s *Subcoordinator) register(ctx context.Context, req wire.RegisterRequest) wire.RegisterReply {
	rec := wire.PeerRecord{Name: req.Name, Port: req.Port, CtrlPort: req.CtrlPort, IP: req.IP}

	s.mu.Lock()
	var prev wire.PeerRecord
	if n := len(s.peers); n > 0 {
		prev = s.peers[n-1]
	}
	candidates := s.fanoutCandidates()
	s.peers = append(s.peers, rec)
	shouldStartStreaming := !s.videoStreaming && len(s.peers) == s.cfg.BatchSize
	s.mu.Unlock()

	s.logger.Info("peer registered with strand", "peer", rec.Name, "position", len(s.peers)-1)

	for _, c := range candidates {
		if err := s.sendUpdateNext(c, rec); err != nil {
			s.logger.Warn("UPDATE_NEXT delivery failed", "target", c.Name, "new_peer", rec.Name, "error", err)
		}
	}

	if shouldStartStreaming {
		go s.streamVideos(ctx)
	}

	return wire.RegisterReply{Prev: prev}
}

// fanoutCandidates returns up to updateNextFanout most-recently-appended
// peers (positions N-2, N-3, N-4 relative to the peer about to be
// appended), the set that learns about the new tail via UPDATE_NEXT.
// Must be called with s.mu held.
func (s *Subcoordinator) fanoutCandidates() []wire.PeerRecord {
	n := len(s.peers)
	start := n - updateNextFanout
	if start < 0 {
		start = 0
	}
	out := make([]wire.PeerRecord, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, s.peers[i])
	}
	return out
}

func (s *Subcoordinator) sendUpdateNext(target, newPeer wire.PeerRecord) error {
	addr := fmt.Sprintf("%s:%d", target.IP, target.CtrlPort)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := wire.UpdateNextRequest{Cmd: "UPDATE_NEXT", Name: newPeer.Name, Port: newPeer.Port, CtrlPort: newPeer.CtrlPort}
	if err := wire.WriteMessage(conn, req); err != nil {
		return err
	}
	var reply wire.ControlOKReply
	return wire.ReadMessage(conn, &reply)
}

// deliveryDone acknowledges the tail peer's completion signal and notifies
// the Coordinator that this Subcoordinator is ready for another batch.
// videoStreaming is cleared only once that round-trip has finished.
func (s *Subcoordinator) deliveryDone() wire.DeliveryDoneReply {
	go func() {
		s.notifyCoordinatorReady()
		s.mu.Lock()
		s.videoStreaming = false
		s.mu.Unlock()
	}()

	return wire.DeliveryDoneReply{Status: "acknowledged"}
}

func (s *Subcoordinator) notifyCoordinatorReady() {
	conn, err := net.DialTimeout("tcp", s.coordinatorAddr, dialTimeout)
	if err != nil {
		s.logger.Error("subcoordinator: dialing coordinator for readiness", "error", err)
		return
	}
	defer conn.Close()

	req := wire.StatusDoneRequest{Action: "status", Status: "done", Port: s.selfPort}
	if err := wire.WriteMessage(conn, req); err != nil {
		s.logger.Error("subcoordinator: sending status done", "error", err)
		return
	}
	var reply wire.StatusDoneReply
	if err := wire.ReadMessage(conn, &reply); err != nil {
		s.logger.Error("subcoordinator: reading status done reply", "error", err)
		return
	}

	s.logger.Info("coordinator acknowledged readiness", "buffer", reply.Buffer)
}

// lookup returns a peer's record if requester is a known peer name,
// otherwise an unauthorized error. This is a trivial known-peer-name
// check; it is not an authentication mechanism.
func (s *Subcoordinator) lookup(req wire.LookupRequest) wire.LookupReply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isKnownPeer(req.Requester) {
		return wire.LookupReply{Error: "unauthorized"}
	}
	for _, p := range s.peers {
		if p.Name == req.Name {
			return wire.LookupReply{PeerRecord: p}
		}
	}
	return wire.LookupReply{Error: fmt.Sprintf("peer %q not found", req.Name)}
}

// list returns the full peer list if requester is a known peer.
func (s *Subcoordinator) list(req wire.ListRequest) wire.ListReply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isKnownPeer(req.Requester) {
		return wire.ListReply{Error: "unauthorized"}
	}
	peers := make([]wire.PeerRecord, len(s.peers))
	copy(peers, s.peers)
	return wire.ListReply{Peers: peers}
}

// isKnownPeer must be called with s.mu held.
func (s *Subcoordinator) isKnownPeer(name string) bool {
	for _, p := range s.peers {
		if p.Name == name {
			return true
		}
	}
	return false
}

// headPeer returns the strand's first peer, the entry point for streaming.
func (s *Subcoordinator) headPeer() (wire.PeerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) == 0 {
		return wire.PeerRecord{}, false
	}
	return s.peers[0], true
}
