package realtime

// Wire frames exchanged between a device transport (wsclient) and the
// realtime gateway. Shared here so both sides speak the same shape.

// Client frame actions
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPublish     = "publish"
)

// Server frame kinds
const (
	FrameEvent    = "event"
	FramePresence = "presence"
)

// ClientFrame is a frame sent from a device to the gateway.
type ClientFrame struct {
	Action   string    `json:"action"`
	Channel  string    `json:"channel"`
	Presence bool      `json:"presence,omitempty"`
	Event    *Envelope `json:"event,omitempty"`
}

// ServerFrame is a frame sent from the gateway to a device.
type ServerFrame struct {
	Kind  string        `json:"kind"`
	Event *Envelope     `json:"event,omitempty"`
	Diff  *PresenceDiff `json:"diff,omitempty"`
}
