package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/authz-engine/prp-core/pkg/types"
)

// Key derives a deterministic cache key from the index revision and the
// request bindings. json.Marshal sorts map keys, so structurally equal
// bindings always hash identically.
func Key(revision uint64, b *types.Bindings) (string, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("fingerprinting bindings: %w", err)
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d\x00", revision)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
