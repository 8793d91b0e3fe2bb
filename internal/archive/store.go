package archive

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/rampartlabs/rampart/internal/domain"
)

const archiveDBName = "archive.db"

// Store holds audit snapshots and generated artifacts in a SQLCipher
// database. The key never leaves the machine.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the encrypted archive in dataDir. The key is
// applied as the SQLCipher passphrase; opening with a different key
// fails rather than exposing garbage rows.
func Open(dataDir string, key []byte) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	path := filepath.Join(dataDir, archiveDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096",
		path, hex.EncodeToString(key))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to archive: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at INTEGER NOT NULL,
		entry_count INTEGER NOT NULL,
		csv TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		rule_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		content TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveAuditSnapshot stores one CSV export of the audit ledger.
func (s *Store) SaveAuditSnapshot(csv string, entryCount int) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_snapshots (created_at, entry_count, csv) VALUES (?, ?, ?)`,
		time.Now().Unix(), entryCount, csv)
	if err != nil {
		return fmt.Errorf("save audit snapshot: %w", err)
	}
	return nil
}

// SnapshotCount reports how many audit snapshots are stored.
func (s *Store) SnapshotCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_snapshots`).Scan(&n)
	return n, err
}

// SaveArtifact stores a generated document and returns its ID.
func (s *Store) SaveArtifact(name, content string, ruleCount int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO artifacts (id, name, rule_count, created_at, content) VALUES (?, ?, ?, ?, ?)`,
		id, name, ruleCount, time.Now().Unix(), content)
	if err != nil {
		return "", fmt.Errorf("save artifact %q: %w", name, err)
	}
	return id, nil
}

// ListArtifacts returns stored artifacts without their content, newest
// first. Same-second inserts keep insertion order via rowid.
func (s *Store) ListArtifacts() ([]domain.ArtifactInfo, error) {
	rows, err := s.db.Query(
		`SELECT id, name, rule_count, created_at FROM artifacts ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var infos []domain.ArtifactInfo
	for rows.Next() {
		var info domain.ArtifactInfo
		var createdAt int64
		if err := rows.Scan(&info.ID, &info.Name, &info.RuleCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		info.CreatedAt = time.Unix(createdAt, 0)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// ArtifactContent returns the stored document for an ID.
func (s *Store) ArtifactContent(id string) (string, error) {
	var content string
	err := s.db.QueryRow(`SELECT content FROM artifacts WHERE id = ?`, id).Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("artifact %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load artifact %s: %w", id, err)
	}
	return content, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure Store implements domain.ArchiveStore.
var _ domain.ArchiveStore = (*Store)(nil)
