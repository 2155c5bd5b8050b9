package peer

import (
	"context"
	"image"
	"time"
)

// playbackFrame is one decoded frame queued for display.
type playbackFrame struct {
	VideoNumber int
	FrameNum    int
	Img         image.Image
}

// playbackQueue is the bounded handoff between the reassembly/decode path
// and the render loop. It never blocks the producer: once full, new frames
// are dropped from display only (the decoded frame itself was already
// durably recorded by the caller before enqueueing).
type playbackQueue struct {
	frames chan playbackFrame
}

func newPlaybackQueue(capacity int) *playbackQueue {
	if capacity <= 0 {
		capacity = 100
	}
	return &playbackQueue{frames: make(chan playbackFrame, capacity)}
}

func (q *playbackQueue) enqueue(f playbackFrame) bool {
	select {
	case q.frames <- f:
		return true
	default:
		return false
	}
}

// playbackLoop renders queued frames at the configured frame rate until ctx
// is cancelled. It is the only goroutine that touches the renderer.
func (p *Peer) playbackLoop(ctx context.Context) {
	fps := p.cfg.Playback.FPS
	if fps <= 0 {
		fps = 24
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	rendered := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case f := <-p.playback.frames:
				if err := p.renderer.Render(f.VideoNumber, f.FrameNum, f.Img); err != nil {
					p.logger.Warn("rendering frame failed", "video_number", f.VideoNumber, "frame_num", f.FrameNum, "error", err)
				}
				rendered++
				if rendered%int(fps) == 0 {
					stats := p.monitor.Stats()
					p.logger.Debug("playback status",
						"video_number", f.VideoNumber, "frame_num", f.FrameNum,
						"cpu_percent", stats.CPUPercent, "memory_percent", stats.MemoryPercent,
						"disk_usage_percent", stats.DiskUsagePercent, "load_average", stats.LoadAverage)
				}
			default:
				// nothing queued yet this tick
			}
		}
	}
}
