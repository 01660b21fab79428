package rules

import "time"

// Thresholds collects every tunable detection limit used by the default
// registry. Values are configuration, not literals; the zero value of any
// field falls back to its default.
type Thresholds struct {
	// RecoveryLoop is the minimum count of connection recovery attempts in
	// a single session before the session is flagged as looping.
	RecoveryLoop int `yaml:"recoveryLoop"`
	// RecoveryCandidateStorm is the minimum count of recovery candidate
	// events before a session is flagged as storming.
	RecoveryCandidateStorm int `yaml:"recoveryCandidateStorm"`
	// SFUConnectSlow is the maximum acceptable elapsed time between the SFU
	// load starting and the connection reaching connected.
	SFUConnectSlow time.Duration `yaml:"sfuConnectSlow"`
	// MissingPeerICE is the minimum per-peer count of ICE candidates
	// received for an unknown peer before flagging.
	MissingPeerICE int `yaml:"missingPeerIce"`
	// AudioReadyStateMax is the highest HTMLMediaElement readyState still
	// considered stalled for a connected session.
	AudioReadyStateMax int `yaml:"audioReadyStateMax"`
	// AudioNetworkNoSource is the HTMLMediaElement networkState code that
	// marks a missing media source.
	AudioNetworkNoSource int `yaml:"audioNetworkNoSource"`
}

// DefaultThresholds returns the stock detection limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RecoveryLoop:           3,
		RecoveryCandidateStorm: 8,
		SFUConnectSlow:         5 * time.Second,
		MissingPeerICE:         5,
		AudioReadyStateMax:     2,
		AudioNetworkNoSource:   3,
	}
}

// withDefaults fills zero fields so a partial threshold override never
// disables a detector outright.
func (t Thresholds) withDefaults() Thresholds {
	def := DefaultThresholds()
	if t.RecoveryLoop <= 0 {
		t.RecoveryLoop = def.RecoveryLoop
	}
	if t.RecoveryCandidateStorm <= 0 {
		t.RecoveryCandidateStorm = def.RecoveryCandidateStorm
	}
	if t.SFUConnectSlow <= 0 {
		t.SFUConnectSlow = def.SFUConnectSlow
	}
	if t.MissingPeerICE <= 0 {
		t.MissingPeerICE = def.MissingPeerICE
	}
	if t.AudioReadyStateMax <= 0 {
		t.AudioReadyStateMax = def.AudioReadyStateMax
	}
	if t.AudioNetworkNoSource <= 0 {
		t.AudioNetworkNoSource = def.AudioNetworkNoSource
	}
	return t
}
