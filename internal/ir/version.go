package ir

// Version constants written with every session into the store.
const (
	// DocumentVersion is the version of the engine-facing document layout.
	DocumentVersion = "1"

	// RuntimeVersion is the rulebook runtime version.
	RuntimeVersion = "0.1.0"
)
