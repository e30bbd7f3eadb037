package service

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clausecheck/backend/model"
	_ "modernc.org/sqlite"
)

// Storage namespaces. Each key holds one JSON document.
const (
	keyUsers          = "users"
	keyContracts      = "contracts"
	keyCurrentUser    = "current_user"
	keyRecentAnalyses = "recent_analyses"
)

// maxRecentAnalyses bounds the recent-analyses cache.
const maxRecentAnalyses = 10

// Store is a flat key-value persistence layer over SQLite. Reads that fail
// for any reason act as empty; only contract writes surface errors.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// get loads and unmarshals one key. Any failure is swallowed and reported as
// absent: corrupt or missing data reads as empty.
func (s *Store) get(key string, out any) bool {
	var raw string
	err := s.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&raw)
	if err != nil {
		if err != sql.ErrNoRows {
			slog.Warn("store read failed, treating as empty", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		slog.Warn("store entry corrupt, treating as empty", "key", key, "error", err)
		return false
	}
	return true
}

func (s *Store) set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	_, err = s.db.Exec(`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) remove(key string) {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE k = ?`, key); err != nil {
		slog.Warn("store delete failed", "key", key, "error", err)
	}
}

// Users returns all known users.
func (s *Store) Users() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usersLocked()
}

func (s *Store) usersLocked() []model.User {
	var users []model.User
	s.get(keyUsers, &users)
	if users == nil {
		users = []model.User{}
	}
	return users
}

// SaveUser inserts or updates a user. Write failures are swallowed: a user
// record that fails to persist is not worth interrupting the caller for.
func (s *Store) SaveUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.usersLocked()
	replaced := false
	for i := range users {
		if users[i].ID == u.ID {
			users[i] = u
			replaced = true
			break
		}
	}
	if !replaced {
		users = append(users, u)
	}

	if err := s.set(keyUsers, users); err != nil {
		slog.Warn("failed to persist user", "user_id", u.ID, "error", err)
	}
}

// UserByID returns the user with the given ID, or nil.
func (s *Store) UserByID(id string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.usersLocked() {
		if u.ID == id {
			return &u
		}
	}
	return nil
}

// CurrentUser returns the current-session user marker, or nil.
func (s *Store) CurrentUser() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	var u model.User
	if !s.get(keyCurrentUser, &u) || u.ID == "" {
		return nil
	}
	return &u
}

// SetCurrentUser records the current-session user. At most one at a time.
func (s *Store) SetCurrentUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.set(keyCurrentUser, u); err != nil {
		slog.Warn("failed to persist current user", "user_id", u.ID, "error", err)
	}
}

// ClearCurrentUser removes the current-session user marker.
func (s *Store) ClearCurrentUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(keyCurrentUser)
}

// ContractsByUser returns the contracts owned by a user.
func (s *Store) ContractsByUser(userID string) []model.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []model.Contract{}
	for _, c := range s.contractsLocked() {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	return result
}

// ContractByID returns one contract scoped to its owner, or nil.
func (s *Store) ContractByID(userID, id string) *model.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.contractsLocked() {
		if c.ID == id && c.UserID == userID {
			return &c
		}
	}
	return nil
}

func (s *Store) contractsLocked() []model.Contract {
	var contracts []model.Contract
	s.get(keyContracts, &contracts)
	if contracts == nil {
		contracts = []model.Contract{}
	}
	return contracts
}

// SaveContract inserts or updates a contract. This is the one persistence
// operation whose write failure propagates: a contract that fails to save
// must be visible to the user.
func (s *Store) SaveContract(c model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contracts := s.contractsLocked()
	replaced := false
	for i := range contracts {
		if contracts[i].ID == c.ID {
			contracts[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		contracts = append(contracts, c)
	}

	return s.set(keyContracts, contracts)
}

// DeleteContract removes a contract, scoped to its owner. Deleting a contract
// that does not exist is not an error.
func (s *Store) DeleteContract(userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contracts := s.contractsLocked()
	next := make([]model.Contract, 0, len(contracts))
	for _, c := range contracts {
		if c.ID == id && c.UserID == userID {
			continue
		}
		next = append(next, c)
	}

	return s.set(keyContracts, next)
}

// RecentAnalyses returns the bounded recent-analyses cache, most recent first.
func (s *Store) RecentAnalyses() []model.RecentAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentsLocked()
}

func (s *Store) recentsLocked() []model.RecentAnalysis {
	var recents []model.RecentAnalysis
	s.get(keyRecentAnalyses, &recents)
	if recents == nil {
		recents = []model.RecentAnalysis{}
	}
	return recents
}

// PushRecentAnalysis inserts an entry at the front of the cache. An existing
// entry with the same ID moves to the front instead of duplicating; the cache
// never exceeds maxRecentAnalyses entries.
func (s *Store) PushRecentAnalysis(entry model.RecentAnalysis) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recents := s.recentsLocked()
	filtered := make([]model.RecentAnalysis, 0, len(recents)+1)
	filtered = append(filtered, entry)
	for _, r := range recents {
		if r.ID != entry.ID {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) > maxRecentAnalyses {
		filtered = filtered[:maxRecentAnalyses]
	}

	if err := s.set(keyRecentAnalyses, filtered); err != nil {
		slog.Warn("failed to persist recent analyses", "error", err)
	}
}
