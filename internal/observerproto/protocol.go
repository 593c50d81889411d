package observerproto

// Version is the observer feed protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection; re-sending it moves the
// observer or changes its radius.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Dim             string `json:"dim"`
	Pos             [3]int `json:"pos"`
	// Radius bounds which mutations are forwarded (Chebyshev distance from Pos).
	Radius int `json:"radius"`
}

// Server -> Client. Sent once after a valid SUBSCRIBE.
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Tick            uint64 `json:"tick"`
	Radius          int    `json:"radius"`
}

// Server -> Client. One per block change inside the subscribed area.
type MutationMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Dim             string `json:"dim"`
	Pos             [3]int `json:"pos"`
	From            string `json:"from"`
	To              string `json:"to"`
	Anchor          string `json:"anchor,omitempty"`
	Reason          string `json:"reason"`
}

// HTTP response for GET /v1/observe/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	Tick            uint64   `json:"tick"`
	TickRateHz      int      `json:"tick_rate_hz"`
	Dimensions      []string `json:"dimensions"`
	BlockKinds      []string `json:"block_kinds"`
	Anchors         int      `json:"anchors"`
	PendingProbes   int      `json:"pending_probes"`
}
