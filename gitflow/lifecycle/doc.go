// Package lifecycle tracks which remote repositories
// have a healthy local clone. Each (user, repository)
// pair owns one persisted Record moving through the
// PENDING → CLONING → CLONED/FAILED state machine, and
// one canonical clone directory on disk.
//
// The filesystem is the source of truth: a clone
// present on disk outranks any stale record, because
// local storage can be wiped independently of the
// store. EnsureAvailable reconciles the two and heals
// missing clones; failures are recorded on the Record
// rather than raised, so a batch degrades to partial
// availability instead of failing outright.
package lifecycle
