// Package canonical produces the deterministic byte form of a session
// summary for commitment hashing. Output is RFC 8785 (JCS) canonical JSON
// with empty fields elided, so two logically equal summaries encode to
// byte-identical output regardless of construction order.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the canonical JSON bytes of v.
//
// Rules, applied depth-first:
//  1. Fields whose cleaned value is null, "", {} or [] are removed.
//     Numeric zero and false are kept; only absence is absence.
//  2. Map keys sorted lexicographically at every nesting level.
//  3. Compact UTF-8 JSON, numbers as plain decimal literals.
//
// The strategy mirrors signing elsewhere in the system: marshal to
// intermediate JSON (respecting struct tags), decode to a generic value
// with json.Number to preserve numeric literals, prune, then run the
// result through the JCS transform.
func Canonicalize(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}

	var generic any
	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: intermediate decode failed: %w", err)
	}

	pruned := prune(generic)
	if pruned == nil {
		pruned = map[string]any{}
	}

	compact, err := json.Marshal(pruned)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal failed: %w", err)
	}

	out, err := jcs.Transform(compact)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// prune removes empty members recursively. A field counts as empty only
// after its own contents have been cleaned, so {"a":{"b":null}} collapses
// all the way to {}.
func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(t))
		for k, raw := range t {
			value := prune(raw)
			if isEmpty(value) {
				continue
			}
			cleaned[k] = value
		}
		return cleaned
	case []any:
		cleaned := make([]any, 0, len(t))
		for _, raw := range t {
			if raw == nil {
				continue
			}
			cleaned = append(cleaned, prune(raw))
		}
		return cleaned
	default:
		return v
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}
