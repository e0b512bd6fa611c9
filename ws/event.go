// Package ws manages WebSocket connections and real-time event fanout.
//
// Architecture:
//   - Hub: central registry of connections, keyed by user id
//   - Client: one WebSocket connection
//   - Event: the wire format between server and client
//
// Services never block on delivery: broadcasts are fire-and-forget and
// a failed send never affects the operation that triggered it.
package ws

// Event is one message on the wire. Seq is a monotonically increasing
// number stamped on every outbound event so clients can detect gaps.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
}

// Client → server operations.
const (
	OpHeartbeat = "heartbeat"
)

// Server → client operations.
const (
	OpReady        = "ready"
	OpHeartbeatAck = "heartbeat_ack"

	OpMemberJoined      = "member_joined"
	OpMemberLeft        = "member_left"
	OpMemberKicked      = "member_kicked"
	OpRoleAdded         = "role_added"
	OpRoleUpdated       = "role_updated"
	OpChannelGroupAdded = "channel_group_added"
	OpChannelAdded      = "channel_added"
	OpServerUpdated     = "server_updated"
	OpMessageCreated    = "message_created"
)

// ReadyData is the first event sent after a connection is established.
type ReadyData struct {
	UserID        string   `json:"user_id"`
	OnlineUserIDs []string `json:"online_user_ids"`
}

// ServerEventData is the payload of server-scoped events: the id of
// the changed server plus the changed entity.
type ServerEventData struct {
	ServerID string `json:"server_id"`
	Entity   any    `json:"entity,omitempty"`
}
