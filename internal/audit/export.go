package audit

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rampartlabs/rampart/internal/domain"
)

// csvColumns is the fixed export order consumers depend on.
var csvColumns = []string{
	"id", "timestamp", "action", "severity", "actor", "host",
	"success", "details", "error",
}

// csvField quote-wraps a value, doubling internal quotes. Every field is
// quoted, not just the ones that need it; encoding/csv cannot express
// that, so the writer is local.
func csvField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// buildCSV serializes entries oldest first, header included.
func buildCSV(entries []domain.AuditEntry) string {
	var b strings.Builder

	writeRow := func(fields []string) {
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(csvField(f))
		}
		b.WriteByte('\n')
	}

	writeRow(csvColumns)
	for _, e := range entries {
		details := "{}"
		if e.Details != nil {
			if raw, err := json.Marshal(e.Details); err == nil {
				details = string(raw)
			}
		}
		writeRow([]string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.Action),
			string(e.Severity),
			e.Actor,
			e.Host,
			strconv.FormatBool(e.Success),
			details,
			e.Error,
		})
	}
	return b.String()
}

// ExportCSV serializes the whole ledger, snapshots it to the archive
// sink if attached, and audits the export.
func (l *Ledger) ExportCSV() string {
	entries := l.snapshot()
	csv := buildCSV(entries)

	l.archiveCSV(csv, len(entries))
	l.Log(domain.ActionAuditExported, map[string]any{
		"entries": len(entries),
	})
	return csv
}

// recentFailureLimit caps Stats.RecentFailures.
const recentFailureLimit = 10

// Stats summarizes the ledger contents.
type Stats struct {
	Total      int
	ByAction   map[domain.AuditAction]int
	BySeverity map[domain.Severity]int

	// SuccessRate is a fraction in [0,1]; an empty ledger reads 1.
	SuccessRate float64

	// RecentFailures holds up to ten failed entries, newest first.
	RecentFailures []domain.AuditEntry
}

// Stats computes counts, success rate, and recent failures.
func (l *Ledger) Stats() Stats {
	entries := l.snapshot()

	s := Stats{
		Total:      len(entries),
		ByAction:   make(map[domain.AuditAction]int),
		BySeverity: make(map[domain.Severity]int),
	}

	succeeded := 0
	for _, e := range entries {
		s.ByAction[e.Action]++
		s.BySeverity[e.Severity]++
		if e.Success {
			succeeded++
		}
	}

	if len(entries) == 0 {
		s.SuccessRate = 1
	} else {
		s.SuccessRate = float64(succeeded) / float64(len(entries))
	}

	for i := len(entries) - 1; i >= 0 && len(s.RecentFailures) < recentFailureLimit; i-- {
		if !entries[i].Success {
			s.RecentFailures = append(s.RecentFailures, entries[i])
		}
	}
	return s
}
