package persistence

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/talgya/hexcity/internal/game"
)

// decodeSnapshot validates and decodes snapshot JSON.
func decodeSnapshot(raw []byte) (game.Snapshot, error) {
	var snap game.Snapshot
	if err := Validate(raw); err != nil {
		return snap, err
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

var (
	_ game.LedgerPersister = (*SnapshotStore)(nil)
	_ game.LedgerPersister = (*MemoryStore)(nil)
)

func decodeLedger(raw []byte) (game.Ledger, error) {
	var book game.Ledger
	if err := json.Unmarshal(raw, &book); err != nil {
		return book, fmt.Errorf("decode finance book: %w", err)
	}
	return book, nil
}

// SnapshotStore keeps the snapshot and the finance book as JSON in the kv
// table.
type SnapshotStore struct {
	db        *DB
	key       string
	ledgerKey string
}

// NewSnapshotStore stores under StateKey and FinanceKey.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db, key: StateKey, ledgerKey: FinanceKey}
}

func (s *SnapshotStore) Load() (game.Snapshot, error) {
	raw, ok, err := s.db.Get(s.key)
	if err != nil {
		return game.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return game.Snapshot{}, game.ErrNoSnapshot
	}
	return decodeSnapshot([]byte(raw))
}

func (s *SnapshotStore) Save(snap game.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.Put(s.key, string(raw))
}

func (s *SnapshotStore) Clear() error {
	return s.db.Delete(s.key)
}

func (s *SnapshotStore) LoadLedger() (game.Ledger, error) {
	raw, ok, err := s.db.Get(s.ledgerKey)
	if err != nil {
		return game.Ledger{}, fmt.Errorf("load finance book: %w", err)
	}
	if !ok {
		return game.Ledger{}, game.ErrNoSnapshot
	}
	return decodeLedger([]byte(raw))
}

func (s *SnapshotStore) SaveLedger(book game.Ledger) error {
	raw, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode finance book: %w", err)
	}
	return s.db.Put(s.ledgerKey, string(raw))
}

func (s *SnapshotStore) ClearLedger() error {
	return s.db.Delete(s.ledgerKey)
}

// MemoryStore keeps the encoded snapshot and finance book in memory.
type MemoryStore struct {
	mu     sync.Mutex
	raw    []byte
	ledger []byte
}

func (m *MemoryStore) Load() (game.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raw == nil {
		return game.Snapshot{}, game.ErrNoSnapshot
	}
	return decodeSnapshot(m.raw)
}

func (m *MemoryStore) Save(snap game.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	m.mu.Lock()
	m.raw = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.raw = nil
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadLedger() (game.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledger == nil {
		return game.Ledger{}, game.ErrNoSnapshot
	}
	return decodeLedger(m.ledger)
}

func (m *MemoryStore) SaveLedger(book game.Ledger) error {
	raw, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode finance book: %w", err)
	}
	m.mu.Lock()
	m.ledger = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ClearLedger() error {
	m.mu.Lock()
	m.ledger = nil
	m.mu.Unlock()
	return nil
}
