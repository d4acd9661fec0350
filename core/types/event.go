package types

// Event is the wire-friendly representation of a structured state change
// emitted by the ledger for external observers and indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
