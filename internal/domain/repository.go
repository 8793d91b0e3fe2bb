package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventHandler receives the payload of one backend push event.
type EventHandler func(payload json.RawMessage)

// Transport is the consumed backend contract: named-channel calls with
// JSON-serializable arguments and results. Framing is owned entirely by
// the backend agent; this core never sees the wire.
type Transport interface {
	// Call invokes a channel and blocks until a result, an error, or ctx
	// cancellation. Implementations return ErrUnavailable when no backend
	// is reachable.
	Call(ctx context.Context, channel string, args []any) (json.RawMessage, error)

	// Available reports whether the backend is currently reachable.
	Available() bool

	// Subscribe registers a handler for a named push event and returns a
	// cancel func that unregisters it.
	Subscribe(event string, h EventHandler) (cancel func())

	// Close tears the transport down. Calls after Close fail with
	// ErrUnavailable.
	Close() error
}

// MachineRepository reads the backend machine inventory.
type MachineRepository interface {
	// FindAll fetches every machine in one logical call.
	FindAll(ctx context.Context) ([]Machine, error)

	// FindByID returns ErrNotFound for an absent machine and
	// ErrUnavailable when the backend cannot be asked.
	FindByID(ctx context.Context, id string) (*Machine, error)

	// FindByFilter filters an already-fetched collection in memory.
	FindByFilter(ctx context.Context, f MachineFilter) ([]Machine, error)
}

// RuleRepository reads persisted policy rules.
type RuleRepository interface {
	FindAll(ctx context.Context) ([]PolicyRule, error)
	FindByID(ctx context.Context, id string) (*PolicyRule, error)
	FindByFilter(ctx context.Context, f RuleFilter) ([]PolicyRule, error)
}

// UserRepository reads directory-service users.
type UserRepository interface {
	FindAll(ctx context.Context) ([]DirectoryUser, error)
	FindByID(ctx context.Context, id string) (*DirectoryUser, error)
	FindByFilter(ctx context.Context, f UserFilter) ([]DirectoryUser, error)
}

// EvidenceRepository reads compliance evidence records.
type EvidenceRepository interface {
	FindAll(ctx context.Context) ([]Evidence, error)
	FindByID(ctx context.Context, id string) (*Evidence, error)
	FindByFilter(ctx context.Context, f EvidenceFilter) ([]Evidence, error)
}

// KeyProvider abstracts the source of the archive encryption key.
// Phase 1: file-based key. Phase 2: key escrowed with the backend.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// ArtifactInfo describes one stored artifact without its content.
type ArtifactInfo struct {
	ID        string
	Name      string
	RuleCount int
	CreatedAt time.Time
}

// ArchiveStore is the encrypted local vault for audit snapshots and
// generated artifacts. Contents survive restarts; the key does not leave
// the machine.
type ArchiveStore interface {
	// SaveAuditSnapshot stores one CSV export of the ledger.
	SaveAuditSnapshot(csv string, entryCount int) error

	// SaveArtifact stores a generated document and returns its ID.
	SaveArtifact(name, content string, ruleCount int) (string, error)

	// ListArtifacts returns stored artifacts, newest first.
	ListArtifacts() ([]ArtifactInfo, error)

	// ArtifactContent returns the full document for an ID, or ErrNotFound.
	ArtifactContent(id string) (string, error)

	// Close releases the underlying database connection.
	Close() error
}
