package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/inventivepotter/promptrepo/gitflow/credurl"
	"github.com/inventivepotter/promptrepo/gitflow/exec"
	"github.com/inventivepotter/promptrepo/gitflow/workingcopy"
)

// cloningStaleAfter is how long an in-flight CLONING
// record is trusted. Past this window with no clone on
// disk, the attempt is assumed dead (crashed process)
// and the repository is re-cloned.
const cloningStaleAfter = 30 * time.Minute

// RepoConfig describes one configured repository of a
// user.
type RepoConfig struct {
	// Name is the repository name, unique per user.
	Name string
	// CloneURL is the remote URL.
	CloneURL string
	// Branch is the default base branch.
	Branch string
	// Hosting selects the credential convention.
	Hosting credurl.Hosting
}

// Manager owns the clone status records and the
// canonical clone directories. All mutation of records
// goes through it.
type Manager struct {
	store   Store
	rootDir string

	// cloneTimeout bounds each clone network call.
	cloneTimeout time.Duration

	// Per-(user, repo) critical sections. Working
	// copy operations for one repository are not
	// parallel-safe, so every caller serializes
	// through Lock.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager returns a Manager storing clones under
// rootDir, one directory per (user, repository).
func NewManager(store Store, rootDir string) *Manager {
	return &Manager{
		store:        store,
		rootDir:      rootDir,
		cloneTimeout: exec.DefaultTimeout,
		locks:        make(map[string]*sync.Mutex),
	}
}

// Store exposes the record store for status display by
// other subsystems.
func (m *Manager) Store() Store {
	return m.store
}

// LocalPath is the canonical clone directory for a
// (user, repository) pair.
func (m *Manager) LocalPath(
	userID string,
	repoName string,
) string {
	return filepath.Join(m.rootDir, userID, repoName)
}

// Lock acquires the critical section for one
// (user, repository) pair and returns its release
// function. Every working copy operation for the pair
// must run inside it.
func (m *Manager) Lock(
	userID string,
	repoName string,
) func() {
	m.mu.Lock()

	key := userID + "\x00" + repoName

	lk, ok := m.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[key] = lk
	}

	m.mu.Unlock()

	lk.Lock()

	return lk.Unlock
}

// EnsureAvailable makes sure each configured repository
// has a healthy local clone and returns the names of
// the available ones. Clone failures are recorded on
// the repository's Record, not raised, so the result
// degrades to partial availability. The call is
// idempotent: an already present clone is never
// re-cloned.
func (m *Manager) EnsureAvailable(
	ctx context.Context,
	userID string,
	configs []RepoConfig,
	credential string,
) []string {
	var available []string

	for _, cfg := range configs {
		if m.ensureOne(ctx, userID, cfg, credential) {
			available = append(available, cfg.Name)
		}
	}

	return available
}

// ensureOne reconciles a single repository and reports
// whether its clone is available.
func (m *Manager) ensureOne(
	ctx context.Context,
	userID string,
	cfg RepoConfig,
	credential string,
) bool {
	unlock := m.Lock(userID, cfg.Name)
	defer unlock()

	path := m.LocalPath(userID, cfg.Name)
	onDisk := workingcopy.IsRepository(path)

	rec, err := m.store.Get(ctx, userID, cfg.Name)

	switch {
	case errors.Is(err, ErrRecordNotFound):
		if onDisk {
			// A clone on disk wins over the missing
			// record; adopt it.
			m.adoptClone(ctx, userID, cfg, path)

			return true
		}

		// First reference to this configured
		// repository.
		rec, err = m.store.Insert(ctx, &Record{
			UserID:   userID,
			CloneURL: cfg.CloneURL,
			RepoName: cfg.Name,
			Status:   StatusPending,
			Branch:   cfg.Branch,
		})
		if err != nil {
			slog.Error(
				"failed to insert repo record",
				"user", userID,
				"repo", cfg.Name,
				"error", err,
			)

			return false
		}

	case err != nil:
		slog.Error(
			"failed to load repo record",
			"user", userID,
			"repo", cfg.Name,
			"error", err,
		)

		// A store failure does not invalidate a
		// clone already on disk.
		return onDisk

	case rec.Status == StatusOutdated:
		// The remote configuration changed; the
		// stale clone is discarded and replaced
		// from the current URL.
		slog.Info(
			"re-cloning outdated repository",
			"user", userID,
			"repo", cfg.Name,
		)

	case onDisk:
		// A clone on disk wins over whatever the
		// record claims.
		m.healRecord(ctx, rec, path)

		return true

	case rec.Status == StatusCloning &&
		!m.cloningIsStale(rec):
		// Assumed in progress elsewhere; not
		// available this call.
		return false

	case rec.Status == StatusCloning:
		slog.Warn(
			"reconciling stale cloning record",
			"user", userID,
			"repo", cfg.Name,
		)

	case rec.Status == StatusCloned:
		// Record says cloned but the directory is
		// gone: external deletion, re-clone.
		slog.Warn(
			"clone missing on disk, re-cloning",
			"user", userID,
			"repo", cfg.Name,
		)
	}

	return m.attemptClone(
		ctx, rec, cfg, path, credential,
	)
}

// cloningIsStale reports whether an in-flight CLONING
// record has outlived the staleness window.
func (m *Manager) cloningIsStale(rec *Record) bool {
	if rec.LastCloneAttempt == nil {
		return true
	}

	return time.Since(*rec.LastCloneAttempt) >
		cloningStaleAfter
}

// adoptClone inserts a CLONED record for a clone found
// on disk with no record at all, as an earlier
// deployment would have left it.
func (m *Manager) adoptClone(
	ctx context.Context,
	userID string,
	cfg RepoConfig,
	path string,
) {
	if _, err := m.store.Insert(ctx, &Record{
		UserID:    userID,
		CloneURL:  cfg.CloneURL,
		RepoName:  cfg.Name,
		Status:    StatusCloned,
		Branch:    cfg.Branch,
		LocalPath: path,
	}); err != nil {
		slog.Error(
			"failed to adopt existing clone",
			"user", userID,
			"repo", cfg.Name,
			"error", err,
		)
	}
}

// healRecord writes the CLONED state back for a clone
// found on disk, covering records that went stale while
// the clone survived.
func (m *Manager) healRecord(
	ctx context.Context,
	rec *Record,
	path string,
) {
	if rec.Status == StatusCloned &&
		rec.LocalPath == path {
		return
	}

	rec.LocalPath = path
	rec.CloneErrorMsg = ""

	if err := m.setStatus(
		ctx, rec, StatusCloned,
	); err != nil {
		slog.Error(
			"failed to heal repo record",
			"user", rec.UserID,
			"repo", rec.RepoName,
			"error", err,
		)
	}
}

// setStatus moves rec to the target status and persists
// it, checking the move against the transition table.
// Reconciliation can still force a move outside the
// table, because the filesystem is authoritative over
// the recorded state; such moves are logged, not
// rejected.
func (m *Manager) setStatus(
	ctx context.Context,
	rec *Record,
	to Status,
) error {
	if rec.Status != to &&
		!ValidTransition(rec.Status, to) {
		slog.Warn(
			"irregular status transition",
			"user", rec.UserID,
			"repo", rec.RepoName,
			"from", string(rec.Status),
			"to", string(to),
		)
	}

	rec.Status = to

	return m.store.Update(ctx, rec)
}

// attemptClone drives one PENDING/FAILED/OUTDATED or
// stale record through CLONING to CLONED or FAILED.
func (m *Manager) attemptClone(
	ctx context.Context,
	rec *Record,
	cfg RepoConfig,
	path string,
	credential string,
) bool {
	now := time.Now().UTC()

	rec.LastCloneAttempt = &now
	rec.LocalPath = ""
	rec.CloneURL = cfg.CloneURL

	if err := m.setStatus(
		ctx, rec, StatusCloning,
	); err != nil {
		slog.Error(
			"failed to mark record cloning",
			"user", rec.UserID,
			"repo", rec.RepoName,
			"error", err,
		)

		return false
	}

	cloneCtx, cancel := context.WithTimeout(
		ctx, m.cloneTimeout,
	)
	defer cancel()

	_, err := workingcopy.Clone(
		cloneCtx,
		cfg.CloneURL,
		path,
		cfg.Branch,
		credential,
		cfg.Hosting,
	)
	if err != nil {
		rec.LocalPath = ""
		rec.CloneErrorMsg = exec.Redact(err.Error())

		if uerr := m.setStatus(
			ctx, rec, StatusFailed,
		); uerr != nil {
			slog.Error(
				"failed to record clone failure",
				"user", rec.UserID,
				"repo", rec.RepoName,
				"error", uerr,
			)
		}

		slog.Warn(
			"clone failed",
			"user", rec.UserID,
			"repo", rec.RepoName,
			"error", err,
		)

		return false
	}

	rec.LocalPath = path
	rec.CloneErrorMsg = ""

	if err := m.setStatus(
		ctx, rec, StatusCloned,
	); err != nil {
		slog.Error(
			"failed to record clone success",
			"user", rec.UserID,
			"repo", rec.RepoName,
			"error", err,
		)
	}

	slog.Info(
		"cloned repository",
		"user", rec.UserID,
		"repo", rec.RepoName,
		"path", path,
	)

	return true
}
