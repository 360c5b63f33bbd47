package ir

// Version constants for snapshot format and engine.
const (
	// SnapshotVersion is the SyncSnapshot wire format version.
	SnapshotVersion = 1

	// EngineVersion is the reveal engine version.
	EngineVersion = "0.1.0"
)
