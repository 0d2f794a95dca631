package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// DocState is the position of one document in a reconciliation pass.
type DocState string

const (
	StateUnseen     DocState = "unseen"
	StateExtracting DocState = "extracting"
	StateChunking   DocState = "chunking"
	StateEmbedding  DocState = "embedding"
	StateWriting    DocState = "writing"
	StateCommitting DocState = "committing"
	StatePurging    DocState = "purging"

	// terminal states
	StateCommitted DocState = "committed"
	StateRefreshed DocState = "refreshed" // bytes changed, text did not
	StateSkipped   DocState = "skipped"
	StateFailed    DocState = "failed"
	StateConflict  DocState = "conflict"
	StateBusy      DocState = "busy"
	StateRemoved   DocState = "removed"
)

// Fingerprint is the content digest of normalised text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
