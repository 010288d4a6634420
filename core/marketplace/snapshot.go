package marketplace

import "time"

// SnapshotVersion is bumped when the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// Snapshot is a full copy of marketplace state at event sequence Seq.
type Snapshot struct {
	Version  int           `json:"version"`
	Seq      uint64        `json:"seq"`
	TakenAt  time.Time     `json:"taken_at"`
	Registry RegistryState `json:"registry"`
	Engine   EngineState   `json:"engine"`
	Token    *TokenState   `json:"token,omitempty"`
}
