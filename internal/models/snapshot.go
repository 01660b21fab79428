package models

// Snapshot is a point-in-time dump of every participant's connection state.
type Snapshot struct {
	ConnectionType string      `json:"connectionType,omitempty"`
	Fallback       bool        `json:"fallback,omitempty"`
	Server         *ServerInfo `json:"server,omitempty"`
	Sessions       []Session   `json:"sessions,omitempty"`
}

// ServerInfo describes the SFU server state captured in a snapshot.
type ServerInfo struct {
	State  string   `json:"state,omitempty"`
	URL    string   `json:"url,omitempty"`
	Errors []string `json:"errors,omitempty"`
	Info   any      `json:"info,omitempty"`
}

// Session is one participant's state within a snapshot.
type Session struct {
	ID           SessionID      `json:"id"`
	State        string         `json:"state,omitempty"`
	Peer         *PeerState     `json:"peer,omitempty"`
	Audio        *AudioState    `json:"audio,omitempty"`
	AudioError   string        `json:"audioError,omitempty"`
	VideoError   string        `json:"videoError,omitempty"`
	SFUConsumers []SFUConsumer `json:"sfuConsumers,omitempty"`
}

// PeerState mirrors the RTCPeerConnection-level state of a session.
type PeerState struct {
	State               string `json:"state,omitempty"`
	ICEState            string `json:"iceState,omitempty"`
	LocalCandidateType  string `json:"localCandidateType,omitempty"`
	RemoteCandidateType string `json:"remoteCandidateType,omitempty"`
}

// AudioState mirrors the HTMLMediaElement playback state of a session's
// audio. State is the element readyState code, NetworkState the element
// networkState code.
type AudioState struct {
	State        int  `json:"state"`
	Muted        bool `json:"muted,omitempty"`
	Paused       bool `json:"paused,omitempty"`
	NetworkState int  `json:"networkState,omitempty"`
}

// SFUConsumer records one forwarded track consumed from the SFU.
type SFUConsumer struct {
	Type  string `json:"type,omitempty"`
	State string `json:"state,omitempty"`
}
