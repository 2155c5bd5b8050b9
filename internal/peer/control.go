package peer

import (
	"context"
	"net"
	"strconv"

	"github.com/strandcast/strandcast/internal/wire"
)

// acceptControl runs the control-plane TCP accept loop: UPDATE_NEXT,
// SUBCOORDINATOR_INFO, and ack all arrive here, one JSON object per
// connection, and are each replied to with OK.
func (p *Peer) acceptControl(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.ctrlLn.Close()
	}()

	for {
		conn, err := p.ctrlLn.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				p.logger.Warn("control accept error", "error", err)
				continue
			}
		}
		go p.handleCtrlConn(ctx, conn)
	}
}

func (p *Peer) handleCtrlConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	data, tag, err := wire.PeekEnvelope(conn)
	if err != nil {
		return
	}

	switch tag.Cmd {
	case "UPDATE_NEXT":
		var req wire.UpdateNextRequest
		if err := wire.Decode(data, &req); err != nil {
			p.logger.Warn("decoding UPDATE_NEXT", "error", err)
			return
		}
		p.mu.Lock()
		p.nextPeers = append(p.nextPeers, wire.PeerRecord{Name: req.Name, Port: req.Port, CtrlPort: req.CtrlPort, IP: "127.0.0.1"})
		p.mu.Unlock()
		p.logger.Info("learned next-hop candidate", "name", req.Name, "port", req.Port)

	case "SUBCOORDINATOR_INFO":
		var req wire.SubcoordinatorInfoRequest
		if err := wire.Decode(data, &req); err != nil {
			p.logger.Warn("decoding SUBCOORDINATOR_INFO", "error", err)
			return
		}
		p.mu.Lock()
		p.subcoordinatorAddr = net.JoinHostPort(p.cfg.IP, strconv.Itoa(req.SubcoordinatorPort))
		p.prevPeer = req.PrevPeer
		p.mu.Unlock()
		p.logger.Info("learned subcoordinator", "subcoordinator_port", req.SubcoordinatorPort)

	case "ack":
		// liveness probe; replying OK below is the entire contract.

	case "REASSIGN":
		var req wire.ReassignRequest
		if err := wire.Decode(data, &req); err != nil {
			p.logger.Warn("decoding REASSIGN", "error", err)
			return
		}
		p.mu.Lock()
		p.coordinatorAddr = req.CoordinatorAddr
		p.mu.Unlock()
		p.logger.Info("reassigned to new coordinator", "coordinator_address", req.CoordinatorAddr)
		go p.registerWithCoordinator(ctx)

	default:
		p.logger.Warn("unknown control command", "cmd", tag.Cmd)
	}

	wire.WriteMessage(conn, wire.ControlOKReply{Status: "OK"})
}
