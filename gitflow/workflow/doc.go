// Package workflow turns a saved artifact file into a
// reviewable change set: a dedicated branch, a commit,
// a pushed remote branch, and optionally a pull request
// requested from a hosting gateway.
//
// HandleSave decides the branch strategy from the
// current branch: saves made on the base branch get a
// fresh uniquely named update branch; saves made on a
// feature branch land on that branch directly. PR
// creation is best-effort and never fails the save.
package workflow
