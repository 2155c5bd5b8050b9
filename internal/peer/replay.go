package peer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/strandcast/strandcast/internal/wire"
)

const subcoordinatorDialTimeout = 5 * time.Second

// handleVideoEnd runs the completeness check for a finished video: request
// any missing frames, or mark it ready and flush the ready queue in video
// order. The video_end envelope is always forwarded downstream; a tail peer
// reports delivery completion to its Subcoordinator instead.
func (p *Peer) handleVideoEnd(ctx context.Context, end wire.VideoEnd) {
	p.mu.Lock()
	vs, ok := p.videos[end.VideoNumber]
	if !ok {
		vs = newVideoState()
		p.videos[end.VideoNumber] = vs
	}
	if vs.totalFrames <= 0 {
		vs.totalFrames = end.FrameNum + 1
	}

	missing := missingFrames(vs)
	p.mu.Unlock()

	if len(missing) > 0 {
		p.logger.Info("requesting missing frames", "video_number", end.VideoNumber, "count", len(missing))
		if err := p.requestMissingFrames(end.VideoNumber, missing); err != nil {
			p.logger.Warn("requesting missing frames failed", "video_number", end.VideoNumber, "error", err)
		}
	} else {
		p.mu.Lock()
		vs.ready = true
		p.flushReadyQueue()
		p.mu.Unlock()
	}

	p.forwardDatagram(end)

	if p.isTail() {
		p.notifySubcoordinatorDone()
	}
}

// missingFrames returns the frame numbers with no complete chunk set, given
// the video's known total. Must be called with mu held.
func missingFrames(vs *videoState) []int {
	if vs.totalFrames <= 0 {
		return nil
	}
	var missing []int
	for i := 0; i < vs.totalFrames; i++ {
		if !vs.received[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// flushReadyQueue advances nextVideoToFlush through any contiguous run of
// ready videos, handing each one's decoded frames to the playback queue in
// frame order before moving to the next. This is what enforces the ordered
// playback invariant: video k+1 never reaches the queue before video k has
// been flushed, even if video k+1 finished reassembling first. Must be
// called with mu held.
func (p *Peer) flushReadyQueue() {
	for {
		vs, ok := p.videos[p.nextVideoToFlush]
		if !ok || !vs.ready || vs.flushed {
			return
		}

		video := p.nextVideoToFlush
		for frameNum := 0; frameNum < vs.totalFrames; frameNum++ {
			img, ok := vs.frames[frameNum]
			if !ok {
				// Marked received but not stored (its decode failed or is
				// still running); skip rather than block the whole strand's
				// ordering.
				continue
			}
			p.playback.enqueue(playbackFrame{VideoNumber: video, FrameNum: frameNum, Img: img})
		}
		vs.flushed = true
		p.nextVideoToFlush++
	}
}

func (p *Peer) requestMissingFrames(videoNumber int, missing []int) error {
	p.mu.Lock()
	addr := p.subcoordinatorAddr
	p.mu.Unlock()
	if addr == "" {
		return fmt.Errorf("subcoordinator address not yet known")
	}

	conn, err := net.DialTimeout("tcp", addr, subcoordinatorDialTimeout)
	if err != nil {
		return fmt.Errorf("dialing subcoordinator: %w", err)
	}
	defer conn.Close()

	req := wire.RequestMissingFramesRequest{
		Type: "requestMissingFrames", PeerName: p.name, PeerPort: p.cfg.DataPort,
		VideoNumber: videoNumber, MissingFrames: missing,
	}
	if err := wire.WriteMessage(conn, req); err != nil {
		return err
	}
	var reply wire.RequestMissingFramesReply
	return wire.ReadMessage(conn, &reply)
}

func (p *Peer) notifySubcoordinatorDone() {
	p.mu.Lock()
	addr := p.subcoordinatorAddr
	p.mu.Unlock()
	if addr == "" {
		return
	}

	conn, err := net.DialTimeout("tcp", addr, subcoordinatorDialTimeout)
	if err != nil {
		p.logger.Warn("notifying subcoordinator of delivery completion failed", "error", err)
		return
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, wire.DeliveryDoneRequest{Type: "deliveryDone"}); err != nil {
		p.logger.Warn("sending deliveryDone failed", "error", err)
		return
	}
	var reply wire.DeliveryDoneReply
	if err := wire.ReadMessage(conn, &reply); err != nil {
		p.logger.Warn("reading deliveryDone reply failed", "error", err)
	}
}
