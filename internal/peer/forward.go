package peer

import (
	"fmt"
	"net"

	"github.com/strandcast/strandcast/internal/wire"
)

// currentNext returns the peer's current next-hop: the head of nextPeers,
// appended in join order so the closest successor is always tried first.
func (p *Peer) currentNext() (wire.PeerRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.nextPeers) == 0 {
		return wire.PeerRecord{}, false
	}
	return p.nextPeers[0], true
}

// popNextPeer discards the current (failed) next-hop candidate.
func (p *Peer) popNextPeer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.nextPeers) > 0 {
		p.nextPeers = p.nextPeers[1:]
	}
}

// ackProbe opens a short-lived control connection to target and checks for
// a liveness reply, without side effects beyond the round trip.
func ackProbe(target wire.PeerRecord) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", target.IP, target.CtrlPort), ackDialTimeout)
	if err != nil {
		return fmt.Errorf("dialing next hop: %w", err)
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, wire.AckRequest{Cmd: "ack"}); err != nil {
		return err
	}
	var reply wire.ControlOKReply
	return wire.ReadMessage(conn, &reply)
}

// forwardDatagram sends v to the current next-hop over UDP, ack-probing
// first and popping dead candidates from nextPeers until one responds or
// the list is exhausted (the peer is the tail).
func (p *Peer) forwardDatagram(v any) {
	for {
		target, ok := p.currentNext()
		if !ok {
			return
		}
		if err := ackProbe(target); err != nil {
			p.logger.Warn("next hop unreachable, failing over", "name", target.Name, "error", err)
			p.popNextPeer()
			continue
		}

		addr := &net.UDPAddr{IP: net.ParseIP(target.IP), Port: target.Port}
		if err := wire.WriteDatagram(p.dataConn, addr, v); err != nil {
			p.logger.Warn("forwarding datagram failed", "name", target.Name, "error", err)
		}
		return
	}
}

// forwardVideoFrame re-emits every chunk of a newly completed frame to the
// current next-hop, ack-probing once for the whole frame rather than once
// per chunk. Called exactly once per frame, from the completeness branch in
// handleVideoFrame — never for an incomplete or already-forwarded frame.
func (p *Peer) forwardVideoFrame(videoNumber, frameNum int, template wire.VideoFrameChunk, chunks [][]byte) {
	for {
		target, ok := p.currentNext()
		if !ok {
			return
		}
		if err := ackProbe(target); err != nil {
			p.logger.Warn("next hop unreachable, failing over", "name", target.Name, "error", err)
			p.popNextPeer()
			continue
		}

		addr := &net.UDPAddr{IP: net.ParseIP(target.IP), Port: target.Port}
		for chunkID, data := range chunks {
			msg := template
			msg.VideoNumber = videoNumber
			msg.FrameNum = frameNum
			msg.ChunkID = chunkID
			msg.TotalChunks = len(chunks)
			msg.Data = data
			if err := wire.WriteDatagram(p.dataConn, addr, msg); err != nil {
				p.logger.Warn("forwarding chunk failed", "name", target.Name, "video_number", videoNumber, "frame_num", frameNum, "chunk_id", chunkID, "error", err)
			}
		}
		return
	}
}

// isTail reports whether the peer currently has no live next-hop candidate.
func (p *Peer) isTail() bool {
	_, ok := p.currentNext()
	return !ok
}
