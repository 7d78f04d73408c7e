// Package memory persists small JSON documents for the dispatcher: the
// bounded recent-action history and the stored confirmation passphrase.
package memory

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reserved keys.
const (
	KeyRecentActions = "recent_actions"
	KeyConfig        = "config"
)

// DefaultMaxRecent bounds the recent-action history.
const DefaultMaxRecent = 100

var keyRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ActionRecord is one executed tool invocation.
type ActionRecord struct {
	ID        string         `json:"id,omitempty"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	Result    string         `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store is a directory of JSON documents, one file per key. The
// recent-action history is cached in memory and every append rewrites
// its file under the store's lock, so concurrent appends never lose
// records.
type Store struct {
	mu        sync.Mutex
	dir       string
	maxRecent int
	recent    []ActionRecord
	logger    *slog.Logger
}

// NewStore opens (creating if needed) the store rooted at dir and loads
// the recent-action history. A history longer than maxRecent is pruned
// and rewritten. maxRecent <= 0 means [DefaultMaxRecent].
func NewStore(dir string, maxRecent int, logger *slog.Logger) (*Store, error) {
	if maxRecent <= 0 {
		maxRecent = DefaultMaxRecent
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	s := &Store{
		dir:       dir,
		maxRecent: maxRecent,
		logger:    logger.With("component", "memory"),
	}

	raw, err := s.Load(KeyRecentActions)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &s.recent); err != nil {
			s.logger.Warn("recent actions unreadable, starting empty", "error", err)
			s.recent = nil
		}
	}
	if len(s.recent) > maxRecent {
		s.recent = s.recent[len(s.recent)-maxRecent:]
		if err := s.writeJSON(KeyRecentActions, s.recent); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) path(key string) (string, error) {
	if !keyRe.MatchString(key) {
		return "", fmt.Errorf("invalid memory key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// Load returns the raw JSON stored under key, or nil when the key has
// never been saved.
func (s *Store) Load(key string) (json.RawMessage, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Save stores value under key. Saving [KeyRecentActions] replaces the
// history and applies the retention bound.
func (s *Store) Save(key string, value any) error {
	if key == KeyRecentActions {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		var records []ActionRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("%s must be a list of action records: %w", key, err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if len(records) > s.maxRecent {
			records = records[len(records)-s.maxRecent:]
		}
		s.recent = records
		return s.writeJSON(key, records)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(key, value)
}

// Append adds rec to the history, pruning the oldest records beyond the
// bound, and persists the result.
func (s *Store) Append(rec ActionRecord) error {
	if rec.ID == "" {
		if id, err := uuid.NewV7(); err == nil {
			rec.ID = id.String()
		}
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Args == nil {
		rec.Args = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, rec)
	if len(s.recent) > s.maxRecent {
		s.recent = append([]ActionRecord(nil), s.recent[len(s.recent)-s.maxRecent:]...)
	}
	if err := s.writeJSON(KeyRecentActions, s.recent); err != nil {
		return err
	}
	s.logger.Debug("action recorded", "tool", rec.Tool, "records", len(s.recent))
	return nil
}

// RecentActions returns a copy of the history, oldest first.
func (s *Store) RecentActions() []ActionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActionRecord, len(s.recent))
	copy(out, s.recent)
	return out
}

// PassphraseHash returns the stored passphrase digest, or "" when none
// has been set.
func (s *Store) PassphraseHash() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfigLocked()
	if err != nil {
		return "", err
	}
	h, _ := cfg["passphrase_hash"].(string)
	return h, nil
}

// SetPassphrase stores the digest of plain, preserving any other keys in
// the config document.
func (s *Store) SetPassphrase(plain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfigLocked()
	if err != nil {
		return err
	}
	cfg["passphrase_hash"] = HashPassphrase(plain)
	return s.writeJSON(KeyConfig, cfg)
}

func (s *Store) loadConfigLocked() (map[string]any, error) {
	raw, err := s.Load(KeyConfig)
	if err != nil {
		return nil, err
	}
	cfg := map[string]any{}
	if raw != nil {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", KeyConfig, err)
		}
	}
	return cfg, nil
}

// writeJSON replaces the key's file atomically. Callers hold s.mu.
func (s *Store) writeJSON(key string, value any) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

// HashPassphrase returns the hex SHA-256 digest of plain. The digest is
// unsalted to stay compatible with existing config files.
func HashPassphrase(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// MatchPassphrase compares plain against a stored digest in constant time.
func MatchPassphrase(storedHash, plain string) bool {
	got := HashPassphrase(plain)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(got)) == 1
}
