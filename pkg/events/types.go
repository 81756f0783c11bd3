// Package events streams Trigger Mesh traffic to WebSocket clients. A
// "channel" here is a mesh pattern (the dotted namespace, e.g.
// "mission.*" or "error.detected"), and catchup is served directly from
// the audit log.
package events

// ClientMessage is the JSON structure for client -> server WebSocket
// messages.
type ClientMessage struct {
	Action      string  `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string  `json:"channel,omitempty"`       // a Trigger Mesh pattern, e.g. "mission.*"
	LastSequence *uint64 `json:"last_sequence,omitempty"` // for catchup
}
