// Package audit appends a best-effort JSONL trail of security operations
// next to the vault. Audit writes never fail the operation they describe.
package audit

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Operation names recorded in the trail.
const (
	OpInit         = "vault.init"
	OpUnlock       = "vault.unlock"
	OpUnlockFailed = "vault.unlock_failed"
	OpThrottled    = "vault.unlock_throttled"
	OpLock         = "vault.lock"
	OpRotate       = "vault.rotate"
	OpKDFUpdate    = "vault.kdf_update"
	OpSecondFactor = "vault.second_factor"
	OpTOTPEnabled  = "vault.totp_enabled"
	OpTOTPDisabled = "vault.totp_disabled"
	OpBioEnabled   = "vault.bio_enabled"
	OpBioDisabled  = "vault.bio_disabled"
	OpBioUnlock    = "vault.bio_unlock"
	ResultSuccess  = "success"
	ResultFailure  = "failure"
)

// Event is one audit record.
type Event struct {
	ID        string `json:"id"`
	Timestamp string `json:"ts"`
	Operation string `json:"op"`
	Result    string `json:"result"`
	Detail    string `json:"detail,omitempty"`
}

// Log appends events to a JSONL file with owner-only permissions.
type Log struct {
	mu   sync.Mutex
	path string
	log  logrus.FieldLogger
}

// New returns a log writing to path. An empty path disables the trail.
func New(path string, log logrus.FieldLogger) *Log {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Log{path: path, log: log}
}

// Record appends one event. Failures are logged and swallowed: the audit
// trail must never block or fail a vault operation.
func (l *Log) Record(op, result, detail string) {
	if l == nil || l.path == "" {
		return
	}
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Result:    result,
		Detail:    detail,
	}
	line, err := json.Marshal(event)
	if err != nil {
		l.log.WithError(err).Warn("audit: encode event")
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		l.log.WithError(err).Warn("audit: open trail")
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		l.log.WithError(err).Warn("audit: append event")
	}
}
