package subcoordinator

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/strandcast/strandcast/internal/media"
	"github.com/strandcast/strandcast/internal/wire"
)

const (
	defaultVideoFrames = 120
	defaultFrameWidth  = 320
	defaultFrameHeight = 240
	defaultFrameRate   = 24.0
)

// streamVideos drives FILE_COUNT through cfg.Videos in order, streaming one
// video at a time down the strand. It idles once every configured video has
// been streamed.
func (s *Subcoordinator) streamVideos(ctx context.Context) {
	for {
		s.mu.Lock()
		idx := s.fileCount
		s.mu.Unlock()

		if idx >= len(s.cfg.Videos) {
			s.logger.Info("subcoordinator: all videos streamed, idling")
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.streamOneVideo(ctx, idx); err != nil {
			s.logger.Error("streaming video failed", "video_number", idx, "error", err)
		}

		s.mu.Lock()
		s.fileCount++
		s.mu.Unlock()

		if !s.waitForNextVideoReady(ctx) {
			return
		}
	}
}

// waitForNextVideoReady blocks until videoStreaming is cleared, which
// deliveryDone does once the tail peer's deliveryDone has arrived and the
// readiness round-trip with the Coordinator (notifyCoordinatorReady) has
// finished. The buffer value in the Coordinator's reply is logged only; it
// does not change when the next video starts.
func (s *Subcoordinator) waitForNextVideoReady(ctx context.Context) bool {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			s.mu.Lock()
			ready := !s.videoStreaming
			s.mu.Unlock()
			if ready {
				return true
			}
		}
	}
}

func (s *Subcoordinator) streamOneVideo(ctx context.Context, videoNumber int) error {
	head, ok := s.headPeer()
	if !ok {
		return fmt.Errorf("no peers registered yet")
	}

	path := s.cfg.Videos[videoNumber]
	source := loadFrameSource(path)
	defer source.Close()

	totalFrames, err := source.CountFrames()
	if err != nil {
		return fmt.Errorf("counting frames: %w", err)
	}

	vb := newVideoBuffer(totalFrames)
	s.mu.Lock()
	s.videoStreaming = true
	s.frameBuffers[videoNumber] = vb
	s.mu.Unlock()

	s.logger.Info("streaming video started", "video_number", videoNumber, "path", path, "total_frames", totalFrames)

	maxChunkSize := s.cfg.Streaming.MaxChunkSize
	quality := s.cfg.Streaming.JPEGQuality
	headAddr := &net.UDPAddr{IP: net.ParseIP(head.IP), Port: head.Port}

	for frameNum := 0; frameNum < totalFrames; frameNum++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		img, err := source.NextFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading frame %d: %w", frameNum, err)
		}

		encoded, err := s.encoder.Encode(img, quality)
		if err != nil {
			s.logger.Error("encoding frame failed", "video_number", videoNumber, "frame_num", frameNum, "error", err)
			continue
		}
		compressed, err := s.compressor.Compress(encoded)
		if err != nil {
			s.logger.Error("compressing frame failed", "video_number", videoNumber, "frame_num", frameNum, "error", err)
			continue
		}

		chunks := media.Split(compressed, maxChunkSize)
		vb.allocate(frameNum, len(chunks))

		for chunkID, chunk := range chunks {
			vb.store(frameNum, chunkID, chunk)

			msg := wire.VideoFrameChunk{
				Type:                "video_frame",
				Origin:              fmt.Sprintf("subcoord-%d", s.selfPort),
				VideoNumber:         videoNumber,
				FrameNum:            frameNum,
				ChunkID:             chunkID,
				TotalChunks:         len(chunks),
				TotalFramesIncoming: totalFrames,
				Data:                chunk,
			}

			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := wire.WriteDatagram(s.dataConn, headAddr, msg); err != nil {
				s.logger.Error("sending chunk failed", "video_number", videoNumber, "frame_num", frameNum, "chunk_id", chunkID, "error", err)
			}
		}
	}

	vb.markEnded()
	go s.scheduleArchival(videoNumber, vb)

	end := wire.VideoEnd{Type: "video_end", Origin: fmt.Sprintf("subcoord-%d", s.selfPort), VideoNumber: videoNumber, FrameNum: totalFrames - 1}
	if err := wire.WriteDatagram(s.dataConn, headAddr, end); err != nil {
		s.logger.Error("sending video_end failed", "video_number", videoNumber, "error", err)
	}

	s.logger.Info("streaming video finished", "video_number", videoNumber, "total_frames", totalFrames)
	return nil
}

// loadFrameSource stands in for the out-of-scope video decoder library: if
// path names a file containing a single integer, that many synthetic frames
// are generated; otherwise a default-length synthetic clip is used. Real
// container decoding is outside this system's scope (§1).
func loadFrameSource(path string) media.FrameSource {
	total := defaultVideoFrames
	if data, err := os.ReadFile(path); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && n > 0 {
			total = n
		}
	}
	return media.NewSyntheticFrameSource(total, defaultFrameWidth, defaultFrameHeight, defaultFrameRate)
}
