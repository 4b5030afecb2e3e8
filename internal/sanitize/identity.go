package sanitize

import (
	"crypto/sha256"
	"fmt"
)

// Identity returns the stable 16-hex-char digest that identifies a record
// across runs: SHA-256 over the dedup-normalized title and company, first 8
// bytes. Slight rewordings of the same posting hash identically; the
// truncated width makes collisions possible and callers accept that.
func Identity(title, company string) string {
	h := sha256.Sum256([]byte(NormalizeForDedup(title) + "|" + NormalizeForDedup(company)))
	return fmt.Sprintf("%x", h[:8])
}
