// Package audit keeps the bounded, severity-classified ledger of every
// policy-affecting operation the tool performs.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/domain"
)

// DefaultCapacity bounds the ledger; oldest entries are dropped past it.
const DefaultCapacity = 10000

// Config tunes a ledger instance.
type Config struct {
	Capacity int
}

// DefaultConfig returns the standard ledger configuration.
func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity}
}

// ArchiveSink receives ledger snapshots on export and clear.
// Implemented by the encrypted archive store.
type ArchiveSink interface {
	SaveAuditSnapshot(csv string, entryCount int) error
}

// Ledger is a fixed-capacity ring of audit entries. Once full, each
// append overwrites the oldest entry; that drop is deliberately not
// audited. Clear is the only bulk removal and is itself audited.
type Ledger struct {
	mu    sync.Mutex
	buf   []domain.AuditEntry
	head  int // index of the oldest entry
	count int

	actor  string
	host   string
	logger *zap.Logger
	sink   ArchiveSink

	// now is swappable so tests can control timestamps.
	now func() time.Time
}

// NewLedger creates an empty ledger. Actor and host stamp every entry;
// resolve them once at startup.
func NewLedger(cfg Config, actor, host string, logger *zap.Logger) *Ledger {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		buf:    make([]domain.AuditEntry, cfg.Capacity),
		actor:  actor,
		host:   host,
		logger: logger,
		now:    time.Now,
	}
}

// SetArchiveSink attaches the encrypted archive. Snapshots are saved on
// ExportCSV and Clear; a sink failure is logged, never fatal.
func (l *Ledger) SetArchiveSink(sink ArchiveSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

// Log records a successful operation and returns the stored entry.
// Severity comes from the action classification table; callers cannot
// influence it. Details are sanitized before storage.
func (l *Ledger) Log(action domain.AuditAction, details map[string]any) *domain.AuditEntry {
	return l.append(action, details, true, "")
}

// LogError records a failed operation.
func (l *Ledger) LogError(action domain.AuditAction, details map[string]any, errMsg string) *domain.AuditEntry {
	return l.append(action, details, false, errMsg)
}

func (l *Ledger) append(action domain.AuditAction, details map[string]any, success bool, errMsg string) *domain.AuditEntry {
	entry := domain.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		Action:    action,
		Severity:  SeverityFor(action),
		Actor:     l.actor,
		Host:      l.host,
		Details:   sanitizeDetails(details),
		Success:   success,
		Error:     errMsg,
	}

	l.mu.Lock()
	capacity := len(l.buf)
	if l.count < capacity {
		l.buf[(l.head+l.count)%capacity] = entry
		l.count++
	} else {
		l.buf[l.head] = entry
		l.head = (l.head + 1) % capacity
	}
	l.mu.Unlock()

	return &entry
}

// Filter selects ledger entries. Zero-value fields do not constrain.
type Filter struct {
	Action       domain.AuditAction
	Severity     domain.Severity
	Actor        string
	Since        time.Time
	Until        time.Time
	OnlyFailures bool
	Limit        int // 0 means unlimited
}

func (f Filter) matches(e domain.AuditEntry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if f.OnlyFailures && e.Success {
		return false
	}
	return true
}

// Query returns matching entries, newest first.
func (l *Ledger) Query(f Filter) []domain.AuditEntry {
	entries := l.snapshot()

	var out []domain.AuditEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if !f.matches(entries[i]) {
			continue
		}
		out = append(out, entries[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Len returns the number of live entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Clear snapshots the ledger to the archive sink if one is attached,
// removes every entry, and audits the removal.
func (l *Ledger) Clear() {
	entries := l.snapshot()

	l.archiveCSV(buildCSV(entries), len(entries))

	l.mu.Lock()
	l.buf = make([]domain.AuditEntry, len(l.buf))
	l.head = 0
	l.count = 0
	l.mu.Unlock()

	l.Log(domain.ActionAuditCleared, map[string]any{
		"entries_removed": len(entries),
	})
}

// snapshot copies live entries in chronological order.
func (l *Ledger) snapshot() []domain.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.AuditEntry, 0, l.count)
	capacity := len(l.buf)
	for i := 0; i < l.count; i++ {
		out = append(out, l.buf[(l.head+i)%capacity])
	}
	return out
}

func (l *Ledger) archiveCSV(csv string, entryCount int) {
	l.mu.Lock()
	sink := l.sink
	l.mu.Unlock()

	if sink == nil || entryCount == 0 {
		return
	}
	if err := sink.SaveAuditSnapshot(csv, entryCount); err != nil {
		l.logger.Warn("audit snapshot archive failed",
			zap.Int("entries", entryCount),
			zap.Error(err))
	}
}
