package session

import (
	"time"

	"github.com/Hussein-Mazeh/VaultCore/krypto"
)

// A pending unlock exists between a successful password check and the second
// factor. At most one per process; violating the TTL or the attempt cap
// destroys it and forces a fresh unlock.
const (
	pendingTTL         = 120 * time.Second
	pendingMaxAttempts = 5
)

type pendingUnlock struct {
	key      []byte
	secret   string
	created  time.Time
	attempts int
}

func (p *pendingUnlock) expired(now time.Time) bool {
	return now.Sub(p.created) > pendingTTL
}

// destroy wipes the parked key material. Callers that transfer key ownership
// out must nil the key field first.
func (p *pendingUnlock) destroy() {
	krypto.Wipe(p.key)
	p.key = nil
	p.secret = ""
	p.attempts = pendingMaxAttempts
}
