package sovereign

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only row: timestamp, command, payload, caller,
// observed handling latency, and transport source. RequestID lets an
// operator correlate one command across the audit log, the response
// sent back to the caller, and any downstream log lines.
type AuditEntry struct {
	RequestID   string
	TimestampUs int64
	Command     Kind
	Payload     string
	UserID      string
	LatencyUs   int64
	Source      string
	Accepted    bool
}

// AuditLog is an in-memory append-only log of every sovereign command
// received, accepted or not. It never supports mutation or deletion of a
// past entry, only appends and a bounded read-back.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (a *AuditLog) Append(e AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

// Tail returns the most recent n entries, oldest first.
func (a *AuditLog) Tail(n int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > len(a.entries) {
		n = len(a.entries)
	}
	start := len(a.entries) - n
	out := make([]AuditEntry, n)
	copy(out, a.entries[start:])
	return out
}

// RecordCommand is a convenience wrapper: time a handler's authentication
// plus apply step and append one audit row for it. Returns the generated
// request ID so the caller can echo it back in the HTTP response.
func RecordCommand(log *AuditLog, cmd Command, payload string, accepted bool, start time.Time) string {
	id := uuid.New().String()
	log.Append(AuditEntry{
		RequestID:   id,
		TimestampUs: time.Now().UnixMicro(),
		Command:     cmd.Kind,
		Payload:     payload,
		UserID:      cmd.UserID,
		LatencyUs:   time.Since(start).Microseconds(),
		Source:      cmd.Source,
		Accepted:    accepted,
	})
	return id
}
