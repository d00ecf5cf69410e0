// Package requestid generates the correlation IDs echoed in the
// X-Request-Id response header and attached to request-scoped logs.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// counter backs ID generation when the random source fails
var counter atomic.Uint64

// GenerateRequestID returns a unique ID of the form timestamp-randomhex,
// e.g. 1737039600123-a2b3c4d5. The millisecond prefix keeps IDs roughly
// sortable in log output.
func GenerateRequestID() string {
	timestamp := time.Now().UnixMilli()

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("%d-%d", timestamp, counter.Add(1))
	}

	return fmt.Sprintf("%d-%s", timestamp, hex.EncodeToString(randomBytes))
}
