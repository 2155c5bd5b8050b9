package subcoordinator

import (
	"fmt"
	"net"

	"github.com/strandcast/strandcast/internal/wire"
)

// requestMissingFrames validates the request against the buffered video and
// spawns a replay worker that re-emits the requested frames directly to the
// requesting peer, bypassing the strand.
func (s *Subcoordinator) requestMissingFrames(req wire.RequestMissingFramesRequest) wire.RequestMissingFramesReply {
	s.mu.Lock()
	vb, ok := s.frameBuffers[req.VideoNumber]
	s.mu.Unlock()

	if !ok {
		s.logger.Warn("requestMissingFrames for unknown video", "video_number", req.VideoNumber, "peer", req.PeerName)
		return wire.RequestMissingFramesReply{Status: "ok"}
	}

	go s.replay(vb, req)
	return wire.RequestMissingFramesReply{Status: "ok"}
}

// replay re-sends every complete requested frame's chunks to peerPort, then
// emits a video_end marker so the peer re-runs its completeness scan.
func (s *Subcoordinator) replay(vb *videoBuffer, req wire.RequestMissingFramesRequest) {
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: req.PeerPort}
	origin := fmt.Sprintf("subcoord-%d", s.selfPort)

	sent := 0
	for _, frameNum := range req.MissingFrames {
		chunks, ok := vb.chunksOf(frameNum)
		if !ok {
			s.logger.Debug("replay: frame not yet complete, skipping", "video_number", req.VideoNumber, "frame_num", frameNum)
			continue
		}
		for chunkID, chunk := range chunks {
			msg := wire.VideoFrameChunk{
				Type:        "video_frame",
				Origin:      origin,
				VideoNumber: req.VideoNumber,
				FrameNum:    frameNum,
				ChunkID:     chunkID,
				TotalChunks: len(chunks),
				Data:        chunk,
			}
			if err := wire.WriteDatagram(s.dataConn, addr, msg); err != nil {
				s.logger.Error("replay: sending chunk failed", "video_number", req.VideoNumber, "frame_num", frameNum, "error", err)
			}
		}
		sent++
	}

	end := wire.VideoEnd{Type: "video_end", Origin: origin, VideoNumber: req.VideoNumber, FrameNum: vb.totalFrames - 1}
	if err := wire.WriteDatagram(s.dataConn, addr, end); err != nil {
		s.logger.Error("replay: sending video_end failed", "video_number", req.VideoNumber, "error", err)
	}

	s.logger.Info("replay completed", "peer", req.PeerName, "video_number", req.VideoNumber, "frames_replayed", sent)
}
