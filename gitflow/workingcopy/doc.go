// Package workingcopy wraps a single local git clone
// with the operations the save workflow needs: branch
// creation and switch, file staging, commit, push,
// pull, status, and per-file history.
//
// All operations shell out to the git binary. Remote
// operations inject the caller's credential into the
// remote URL for the duration of the call only; the
// credential is never persisted into the repository
// configuration.
package workingcopy
