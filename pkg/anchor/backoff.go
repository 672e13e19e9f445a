package anchor

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Retry backoff policy for failed anchor writes. Jitter is a PRF over the
// entry identity, so the external retry processor can recompute schedules
// without shared state.
const (
	backoffBaseMs   = int64(2000)
	backoffMaxMs    = int64(10 * 60 * 1000)
	backoffJitterMs = int64(1000)
)

// NextBackoff returns the delay before the given attempt (0-based) of
// re-anchoring a session's commitment.
func NextBackoff(sessionID, commitHash string, attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := backoffBaseMs * factor
	if delay > backoffMaxMs {
		delay = backoffMaxMs
	}

	seed := fmt.Sprintf("%s:%s:%d", sessionID, commitHash, attempt)
	sum := sha256.Sum256([]byte(seed))
	jitter := int64(binary.BigEndian.Uint64(sum[:8]) % uint64(backoffJitterMs))

	return time.Duration(delay+jitter) * time.Millisecond
}
