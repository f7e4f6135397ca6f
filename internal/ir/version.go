package ir

const (
	// SchemaVersion is the persisted layout version shared by all backends.
	SchemaVersion = 1

	// EngineVersion is the bomrel engine version.
	EngineVersion = "0.1.0"
)
