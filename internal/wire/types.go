// Package wire defines the JSON envelopes exchanged between Coordinator,
// Subcoordinator, and Peer processes, and the codec used to read/write them.
// All control traffic is one JSON object per TCP connection; all data
// traffic is one JSON object per UDP datagram.
package wire

// PeerRecord is the peer identity shared by the Coordinator and the owning
// Subcoordinator. name uniqueness is enforced within a single strand and is
// best-effort globally.
type PeerRecord struct {
	Name     string `json:"name"`
	Port     int    `json:"port"` // UDP data_port
	CtrlPort int    `json:"ctrl_port"`
	IP       string `json:"ip"`
}

// Empty reports whether r is the zero-value peer record, used to represent
// "no previous peer" in RegisterReply.
func (r PeerRecord) Empty() bool {
	return r == PeerRecord{}
}

// --- Coordinator wire contract -------------------------------------------

// RegisterSubcoordinatorRequest registers a new Subcoordinator slot.
type RegisterSubcoordinatorRequest struct {
	Action string `json:"action"` // "register"
	Type   string `json:"type"`   // "subcoordinator"
	Port   int    `json:"port"`
}

// RegisterSubcoordinatorReply acknowledges subcoordinator registration.
type RegisterSubcoordinatorReply struct {
	Reply string `json:"reply"`
}

// RegisterPeerRequest queues a peer for the next available batch.
type RegisterPeerRequest struct {
	Action   string `json:"action"` // "register"
	Type     string `json:"type"`   // "peer"
	Name     string `json:"name"`
	Port     int    `json:"port"`
	CtrlPort int    `json:"ctrl_port"`
	IP       string `json:"ip"`
}

// RegisterPeerReply reports whether a peer was queued or rejected.
type RegisterPeerReply struct {
	Message string `json:"message,omitempty"` // "queued" | "full"
	Error   string `json:"error,omitempty"`
}

// StatusDoneRequest signals that a Subcoordinator finished a video and is
// ready to take on another batch of peers.
type StatusDoneRequest struct {
	Action string `json:"action"` // "status"
	Status string `json:"status"` // "done"
	Port   int    `json:"port"`
}

// StatusDoneReply tells the Subcoordinator how many peers it may take next.
type StatusDoneReply struct {
	Buffer int `json:"buffer"`
}

// --- Subcoordinator wire contract -----------------------------------------

// RegisterRequest appends a peer to the strand.
type RegisterRequest struct {
	Type     string `json:"type"` // "register"
	Name     string `json:"name"`
	Port     int    `json:"port"`
	CtrlPort int    `json:"ctrl_port"`
	IP       string `json:"ip"`
}

// RegisterReply carries the immediately-preceding peer in the strand, or the
// zero value if this peer is the new head.
type RegisterReply struct {
	Prev PeerRecord `json:"prev"`
}

// DeliveryDoneRequest is sent by the tail peer once a video has been fully
// forwarded down the strand.
type DeliveryDoneRequest struct {
	Type string `json:"type"` // "deliveryDone"
}

// DeliveryDoneReply acknowledges receipt.
type DeliveryDoneReply struct {
	Status string `json:"status"` // "acknowledged"
}

// LookupRequest asks the Subcoordinator for a named peer's record.
type LookupRequest struct {
	Type      string `json:"type"` // "lookup"
	Name      string `json:"name"`
	Requester string `json:"requester"`
}

// LookupReply is either a peer record or an error.
type LookupReply struct {
	PeerRecord
	Error string `json:"error,omitempty"`
}

// ListRequest asks the Subcoordinator for its full peer list.
type ListRequest struct {
	Type      string `json:"type"` // "list"
	Requester string `json:"requester"`
}

// ListReply is either the full peer list or an error.
type ListReply struct {
	Peers []PeerRecord `json:"peers,omitempty"`
	Error string       `json:"error,omitempty"`
}

// RequestMissingFramesRequest asks the Subcoordinator to replay a set of
// frames for one video directly to the requesting peer.
type RequestMissingFramesRequest struct {
	Type          string `json:"type"` // "requestMissingFrames"
	PeerName      string `json:"peer_name"`
	PeerPort      int    `json:"peer_port"`
	VideoNumber   int    `json:"video_number"`
	MissingFrames []int  `json:"missing_frames"`
}

// RequestMissingFramesReply acknowledges that replay has been scheduled.
type RequestMissingFramesReply struct {
	Status string `json:"status"` // "ok"
}

// ErrorReply is a generic error envelope used whenever a request cannot be
// satisfied; it never propagates across connection boundaries.
type ErrorReply struct {
	Error string `json:"error"`
}

// --- Peer control-plane wire contract --------------------------------------

// UpdateNextRequest appends a new downstream candidate to a peer's failover
// list.
type UpdateNextRequest struct {
	Cmd      string `json:"cmd"` // "UPDATE_NEXT"
	Name     string `json:"name"`
	Port     int    `json:"port"`
	CtrlPort int    `json:"ctrl_port"`
}

// SubcoordinatorInfoRequest tells a peer which Subcoordinator owns it and,
// if any, its immediate upstream predecessor.
type SubcoordinatorInfoRequest struct {
	Cmd                string    `json:"cmd"` // "SUBCOORDINATOR_INFO"
	SubcoordinatorPort int       `json:"subcoordinator_port"`
	PrevPeer           *PrevPeer `json:"prev_peer,omitempty"`
}

// PrevPeer names the immediate upstream peer.
type PrevPeer struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

// AckRequest is a liveness probe sent by an upstream peer before forwarding.
type AckRequest struct {
	Cmd string `json:"cmd"` // "ack"
}

// ReassignRequest tells a peer to abandon its current Coordinator and
// re-register against a different one. It backs the Subcoordinator
// operator CLI's "switch <peer> <new_coord_port>" command (§6).
type ReassignRequest struct {
	Cmd             string `json:"cmd"` // "REASSIGN"
	CoordinatorAddr string `json:"coordinator_address"`
}

// ControlOKReply is the uniform reply to every control-plane message.
type ControlOKReply struct {
	Status string `json:"status"` // "OK"
}

// --- UDP data-plane wire contract -------------------------------------------

// VideoFrameChunk carries one chunk of one compressed, encoded video frame.
type VideoFrameChunk struct {
	Type                string `json:"type"` // "video_frame"
	Origin              string `json:"origin"`
	VideoNumber         int    `json:"video_number"`
	FrameNum            int    `json:"frame_num"`
	ChunkID             int    `json:"chunk_id"`
	TotalChunks         int    `json:"total_chunks"`
	TotalFramesIncoming int    `json:"total_frames_incoming"`
	Data                []byte `json:"data"` // base64-encoded by encoding/json
}

// VideoEnd marks the end of one video's frame stream.
type VideoEnd struct {
	Type        string `json:"type"` // "video_end"
	Origin      string `json:"origin"`
	VideoNumber int    `json:"video_number"`
	FrameNum    int    `json:"frame_num"`
}

// DataMessage is the legacy text payload used by the text-file demo path.
type DataMessage struct {
	Type   string `json:"type"` // "data"
	Origin string `json:"origin"`
	Seq    int    `json:"seq"`
	Sender string `json:"sender"`
	Msg    string `json:"msg"`
}
