package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/strandcast/strandcast/internal/media"
	"github.com/strandcast/strandcast/internal/wire"
)

const udpReadTimeout = 2 * time.Second

// recvLoop is the peer's single UDP data-plane goroutine. It reads one
// datagram at a time, dispatching by envelope type, and uses a read
// deadline so it notices ctx cancellation promptly instead of blocking
// forever on a socket with no traffic.
func (p *Peer) recvLoop(ctx context.Context) {
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.dataConn.SetReadDeadline(time.Now().Add(udpReadTimeout))
		n, _, err := p.dataConn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				p.logger.Warn("udp read error", "error", err)
				continue
			}
		}

		tag, err := wire.DecodeDatagram(buf[:n])
		if err != nil {
			p.logger.Warn("decoding datagram", "error", err)
			continue
		}

		switch tag.Type {
		case "video_frame":
			var chunk wire.VideoFrameChunk
			if err := wire.Decode(buf[:n], &chunk); err != nil {
				p.logger.Warn("decoding video_frame", "error", err)
				continue
			}
			p.handleVideoFrame(chunk)

		case "video_end":
			var end wire.VideoEnd
			if err := wire.Decode(buf[:n], &end); err != nil {
				p.logger.Warn("decoding video_end", "error", err)
				continue
			}
			p.handleVideoEnd(ctx, end)

		case "data":
			var msg wire.DataMessage
			if err := wire.Decode(buf[:n], &msg); err != nil {
				p.logger.Warn("decoding data message", "error", err)
				continue
			}
			p.handleDataMessage(msg)

		default:
			p.logger.Debug("ignoring datagram with unknown type", "type", tag.Type)
		}
	}
}

// handleVideoFrame accumulates one chunk of a frame. A chunk for a
// frame_num already in received is a hard no-op — not stored, not
// forwarded — matching the dedup rule in §4.3. Otherwise the chunk is
// recorded and, once every chunk for the frame has arrived, the frame is
// decoded, stored, and its full chunk set is forwarded downstream exactly
// once. Forwarding never runs for an incomplete frame.
func (p *Peer) handleVideoFrame(chunk wire.VideoFrameChunk) {
	p.mu.Lock()
	vs, ok := p.videos[chunk.VideoNumber]
	if !ok {
		vs = newVideoState()
		p.videos[chunk.VideoNumber] = vs
	}
	if chunk.TotalFramesIncoming > 0 {
		vs.totalFrames = chunk.TotalFramesIncoming
	}

	if vs.received[chunk.FrameNum] {
		p.mu.Unlock()
		return
	}

	slots, ok := vs.chunks[chunk.FrameNum]
	if !ok {
		slots = make([][]byte, chunk.TotalChunks)
		vs.chunks[chunk.FrameNum] = slots
	}
	if chunk.ChunkID >= 0 && chunk.ChunkID < len(slots) {
		slots[chunk.ChunkID] = chunk.Data
	}

	complete := true
	for _, c := range slots {
		if c == nil {
			complete = false
			break
		}
	}
	if !complete {
		p.mu.Unlock()
		return
	}

	vs.received[chunk.FrameNum] = true
	delete(vs.chunks, chunk.FrameNum)
	p.mu.Unlock()

	p.storeCompletedFrame(chunk.VideoNumber, chunk.FrameNum, media.Join(slots))
	p.forwardVideoFrame(chunk.VideoNumber, chunk.FrameNum, chunk, slots)
}

// storeCompletedFrame decompresses and decodes one frame's joined chunk
// bytes and records it in all_collections for this video. It is NOT handed
// to the playback queue here: per the ordered-playback invariant, video
// k+1's frames must never reach the queue before video k has been fully
// flushed, so individual frames wait in videoState.frames until
// flushReadyQueue walks them in order. Runs without mu held.
func (p *Peer) storeCompletedFrame(videoNumber, frameNum int, joined []byte) {
	raw, err := p.compressor.Decompress(joined)
	if err != nil {
		p.logger.Warn("decompressing frame", "video_number", videoNumber, "frame_num", frameNum, "error", err)
		return
	}
	img, err := p.encoder.Decode(raw)
	if err != nil {
		p.logger.Warn("decoding frame", "video_number", videoNumber, "frame_num", frameNum, "error", err)
		return
	}

	p.mu.Lock()
	vs, ok := p.videos[videoNumber]
	if !ok {
		vs = newVideoState()
		p.videos[videoNumber] = vs
	}
	vs.frames[frameNum] = img
	p.mu.Unlock()
}

func (p *Peer) handleDataMessage(msg wire.DataMessage) {
	key := fmt.Sprintf("%s|%d", msg.Origin, msg.Seq)
	p.mu.Lock()
	if p.seenText[key] {
		p.mu.Unlock()
		return
	}
	p.seenText[key] = true
	p.mu.Unlock()

	p.logger.Debug("received text message", "origin", msg.Origin, "seq", msg.Seq, "msg", msg.Msg)
	p.forwardDatagram(msg)
}
