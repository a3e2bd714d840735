package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRecordNotFound signals that no record exists for a
// (user, repository) pair. Callers probe with Get and
// branch on this sentinel instead of treating load
// failure as a creation signal.
var ErrRecordNotFound = errors.New(
	"repo record not found",
)

// Store persists clone status records. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the record for the pair, or
	// ErrRecordNotFound.
	Get(
		ctx context.Context,
		userID string,
		repoName string,
	) (*Record, error)

	// Insert creates the record and returns it with
	// ID and timestamps populated.
	Insert(
		ctx context.Context,
		rec *Record,
	) (*Record, error)

	// Update rewrites the record identified by its ID.
	Update(ctx context.Context, rec *Record) error

	// ListByUser returns all records of one user.
	ListByUser(
		ctx context.Context,
		userID string,
	) ([]Record, error)

	// Delete removes the record for the pair.
	// Caller-driven only; the manager never deletes.
	Delete(
		ctx context.Context,
		userID string,
		repoName string,
	) error
}

// MemoryStore is an in-process Store used by tests and
// single-node deployments without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byKey  map[string]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		byKey:  make(map[string]*Record),
	}
}

func recordKey(userID, repoName string) string {
	return userID + "\x00" + repoName
}

// Get implements Store.
func (s *MemoryStore) Get(
	_ context.Context,
	userID string,
	repoName string,
) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byKey[recordKey(userID, repoName)]
	if !ok {
		return nil, fmt.Errorf(
			"%s/%s: %w",
			userID, repoName, ErrRecordNotFound,
		)
	}

	cp := *rec

	return &cp, nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(
	_ context.Context,
	rec *Record,
) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(rec.UserID, rec.RepoName)
	if _, ok := s.byKey[key]; ok {
		return nil, fmt.Errorf(
			"record for %s/%s already exists",
			rec.UserID, rec.RepoName,
		)
	}

	now := time.Now().UTC()

	cp := *rec
	cp.ID = s.nextID
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.nextID++

	s.byKey[key] = &cp

	out := cp

	return &out, nil
}

// Update implements Store.
func (s *MemoryStore) Update(
	_ context.Context,
	rec *Record,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(rec.UserID, rec.RepoName)
	if _, ok := s.byKey[key]; !ok {
		return fmt.Errorf(
			"%s/%s: %w",
			rec.UserID, rec.RepoName,
			ErrRecordNotFound,
		)
	}

	cp := *rec
	cp.UpdatedAt = time.Now().UTC()
	s.byKey[key] = &cp

	return nil
}

// ListByUser implements Store.
func (s *MemoryStore) ListByUser(
	_ context.Context,
	userID string,
) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record

	for _, rec := range s.byKey {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}

	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(
	_ context.Context,
	userID string,
	repoName string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byKey, recordKey(userID, repoName))

	return nil
}
