package ir

// Version constants for the ledger schema and engine.
const (
	// LedgerVersion is the record schema version stamped where relevant.
	LedgerVersion = "1"

	// EngineVersion is the Kairon engine version, recorded on every Trace
	// row so replays can attribute past interpretations to the engine that
	// produced them.
	EngineVersion = "0.1.0"
)
