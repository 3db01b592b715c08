package doc

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed keys. The version suffix allows the
// encoding to change without colliding with existing keys.
const (
	DomainJob    = "nocozen/job/v1"
	DomainRecord = "nocozen/record/v1"
)

// Hash computes SHA256(domain + 0x00 + canonical(v)) as lowercase hex.
func Hash(domain string, v any) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write([]byte(CanonicalKey(v)))
	return hex.EncodeToString(h.Sum(nil))
}
