// Copyright (c) 2024 @neongreen (https://github.com/neongreen)
// Originally from: https://github.com/neongreen/mono/tree/main/beads-merge
//
// MIT License
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// ---
// Several of the merge helpers below (field merge, notes concatenation,
// priority and dependency merge, time comparison) are adapted from the
// vendored original with permission from @neongreen.
// See: https://github.com/neongreen/mono/issues/240

// Package merge implements the field-level merge rules used to auto-resolve
// concurrent edits to the same issue. It is the same deterministic,
// side-effect-free algorithm the project has always used for its git-based
// 3-way JSONL merges, adapted here to merge exactly two concurrent versions
// (no shared base is available at replication time, so an empty synthetic
// base is used -- the same fallback the 3-way merge already takes for
// issues added independently on both sides).
package merge

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Issue is the subset of a beads issue that replication conflict resolution
// needs to reason about. The full issue record (owned by the storage layer)
// carries additional fields that are opaque to merging.
type Issue struct {
	ID              string       `json:"id"`
	Title           string       `json:"title,omitempty"`
	Description     string       `json:"description,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	Status          string       `json:"status,omitempty"`
	Priority        int          `json:"priority"` // No omitempty: 0 is valid (P0/critical)
	IssueType       string       `json:"issue_type,omitempty"`
	CreatedAt       string       `json:"created_at,omitempty"`
	UpdatedAt       string       `json:"updated_at,omitempty"`
	ClosedAt        string       `json:"closed_at,omitempty"`
	CloseReason     string       `json:"close_reason,omitempty"`
	ClosedBySession string       `json:"closed_by_session,omitempty"`
	CreatedBy       string       `json:"created_by,omitempty"`
	Dependencies    []Dependency `json:"dependencies,omitempty"`

	// Tombstone fields: inline soft-delete support for merge.
	DeletedAt    string `json:"deleted_at,omitempty"`
	DeletedBy    string `json:"deleted_by,omitempty"`
	DeleteReason string `json:"delete_reason,omitempty"`
	OriginalType string `json:"original_type,omitempty"`
}

// Dependency represents an issue dependency.
type Dependency struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at"`
	CreatedBy   string `json:"created_by"`
}

const (
	StatusTombstone = "tombstone"
	StatusClosed    = "closed"
)

const (
	// DefaultTombstoneTTL is how long a tombstone is retained before a
	// concurrently-arriving live version is allowed to resurrect the issue.
	DefaultTombstoneTTL = 30 * 24 * time.Hour
	// ClockSkewGrace is added on top of the TTL to tolerate replica clock drift.
	ClockSkewGrace = 5 * time.Minute
)

// IsTombstone returns true if the issue has been soft-deleted.
func IsTombstone(issue Issue) bool {
	return issue.Status == StatusTombstone
}

// IsExpiredTombstone returns true if the tombstone has exceeded its TTL.
// Non-tombstone issues always return false. ttl==0 uses DefaultTombstoneTTL.
func IsExpiredTombstone(issue Issue, ttl time.Duration) bool {
	if !IsTombstone(issue) {
		return false
	}
	if issue.DeletedAt == "" {
		return false
	}
	if ttl == 0 {
		ttl = DefaultTombstoneTTL
	}

	deletedAt, err := parseTime(issue.DeletedAt)
	if err != nil {
		return false
	}

	expirationTime := deletedAt.Add(ttl + ClockSkewGrace)
	return time.Now().After(expirationTime)
}

// MergeTombstones merges two tombstones for the same issue. The tombstone
// with the later deleted_at wins; see isTimeAfter for the tie-break rules.
func MergeTombstones(left, right Issue) Issue {
	if left.DeletedAt == "" && right.DeletedAt == "" {
		return left
	}
	if left.DeletedAt == "" {
		return right
	}
	if right.DeletedAt == "" {
		return left
	}
	if isTimeAfter(left.DeletedAt, right.DeletedAt) {
		return left
	}
	return right
}

// MergeConcurrent deterministically merges two concurrently-edited live
// versions of the same issue, reporting whether a genuine field conflict
// was auto-resolved (as opposed to a trivial fast-forward of one side).
// There is no common ancestor at replication time, so an empty synthetic
// base carrying only the identity fields is used -- the same fallback the
// git-based 3-way merge takes for issues that were added independently on
// two branches.
func MergeConcurrent(incoming, existing Issue) (merged Issue, hadConflict bool) {
	base := Issue{ID: existing.ID, CreatedAt: existing.CreatedAt, CreatedBy: existing.CreatedBy}
	return mergeIssue(base, incoming, existing)
}

func mergeIssue(base, left, right Issue) (Issue, bool) {
	result := Issue{
		ID:        base.ID,
		CreatedAt: base.CreatedAt,
		CreatedBy: base.CreatedBy,
	}

	conflicted := false

	result.Title, conflicted = mergeFieldByUpdatedAt(base.Title, left.Title, right.Title, left.UpdatedAt, right.UpdatedAt, conflicted)
	result.Description, conflicted = mergeFieldByUpdatedAt(base.Description, left.Description, right.Description, left.UpdatedAt, right.UpdatedAt, conflicted)
	result.Notes = mergeNotes(base.Notes, left.Notes, right.Notes)
	if left.Notes != right.Notes && left.Notes != base.Notes && right.Notes != base.Notes {
		conflicted = true
	}
	result.Status = mergeStatus(base.Status, left.Status, right.Status)
	result.Priority = mergePriority(base.Priority, left.Priority, right.Priority)
	result.IssueType = mergeField(base.IssueType, left.IssueType, right.IssueType)
	result.UpdatedAt = maxTime(left.UpdatedAt, right.UpdatedAt)

	if result.Status == StatusClosed {
		result.ClosedAt = maxTime(left.ClosedAt, right.ClosedAt)
		if isTimeAfter(left.ClosedAt, right.ClosedAt) {
			result.CloseReason = left.CloseReason
			result.ClosedBySession = left.ClosedBySession
		} else if right.ClosedAt != "" {
			result.CloseReason = right.CloseReason
			result.ClosedBySession = right.ClosedBySession
		} else {
			result.CloseReason = left.CloseReason
			result.ClosedBySession = left.ClosedBySession
		}
	}

	result.Dependencies = mergeDependencies(base.Dependencies, left.Dependencies, right.Dependencies)

	if result.Status == StatusTombstone {
		if isTimeAfter(left.DeletedAt, right.DeletedAt) {
			result.DeletedAt, result.DeletedBy, result.DeleteReason, result.OriginalType = left.DeletedAt, left.DeletedBy, left.DeleteReason, left.OriginalType
		} else if right.DeletedAt != "" {
			result.DeletedAt, result.DeletedBy, result.DeleteReason, result.OriginalType = right.DeletedAt, right.DeletedBy, right.DeleteReason, right.OriginalType
		} else if left.DeletedAt != "" {
			result.DeletedAt, result.DeletedBy, result.DeleteReason, result.OriginalType = left.DeletedAt, left.DeletedBy, left.DeleteReason, left.OriginalType
		}
	}

	return result, conflicted
}

func mergeStatus(base, left, right string) string {
	if left == StatusTombstone || right == StatusTombstone {
		return StatusTombstone
	}
	if left == StatusClosed || right == StatusClosed {
		return StatusClosed
	}
	return mergeField(base, left, right)
}

func mergeField(base, left, right string) string {
	if base == left && base != right {
		return right
	}
	if base == right && base != left {
		return left
	}
	return left
}

// mergeFieldByUpdatedAt resolves a conflict by picking the value from the
// side with the latest updated_at. sawConflict is threaded through so the
// caller can tell whether any field genuinely diverged.
func mergeFieldByUpdatedAt(base, left, right, leftUpdatedAt, rightUpdatedAt string, sawConflict bool) (string, bool) {
	if base == left && base != right {
		return right, sawConflict
	}
	if base == right && base != left {
		return left, sawConflict
	}
	if left == right {
		return left, sawConflict
	}
	if isTimeAfter(leftUpdatedAt, rightUpdatedAt) {
		return left, true
	}
	return right, true
}

func mergeNotes(base, left, right string) string {
	if base == left && base != right {
		return right
	}
	if base == right && base != left {
		return left
	}
	if left == right {
		return left
	}
	if left == "" {
		return right
	}
	if right == "" {
		return left
	}
	return left + "\n\n---\n\n" + right
}

func mergePriority(base, left, right int) int {
	if base == left && base != right {
		return right
	}
	if base == right && base != left {
		return left
	}
	if left == right {
		return left
	}
	if left == 0 && right != 0 {
		return right
	}
	if right == 0 && left != 0 {
		return left
	}
	if left < right {
		return left
	}
	return right
}

func isTimeAfter(t1, t2 string) bool {
	if t1 == "" {
		return false
	}
	if t2 == "" {
		return true
	}
	time1, err1 := parseTime(t1)
	time2, err2 := parseTime(t2)
	if err1 != nil && err2 != nil {
		return true
	}
	if err1 != nil {
		return false
	}
	if err2 != nil {
		return true
	}
	return !time2.After(time1)
}

func maxTime(t1, t2 string) string {
	if t1 == "" && t2 == "" {
		return ""
	}
	if t1 == "" {
		return t2
	}
	if t2 == "" {
		return t1
	}
	time1, err1 := parseTime(t1)
	time2, err2 := parseTime(t2)
	if err1 != nil && err2 != nil {
		return t2
	}
	if err1 != nil {
		return t2
	}
	if err2 != nil {
		return t1
	}
	if time1.After(time2) {
		return t1
	}
	return t2
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	return t, err
}

// mergeDependencies performs a proper 3-way merge of dependencies.
// Removals are authoritative: a dependency present in base but dropped by
// either side is excluded from the result.
func mergeDependencies(base, left, right []Dependency) []Dependency {
	depKey := func(dep Dependency) string {
		return fmt.Sprintf("%s:%s:%s", dep.IssueID, dep.DependsOnID, dep.Type)
	}

	baseSet := make(map[string]bool, len(base))
	for _, dep := range base {
		baseSet[depKey(dep)] = true
	}

	leftDeps := make(map[string]Dependency, len(left))
	for _, dep := range left {
		leftDeps[depKey(dep)] = dep
	}

	rightDeps := make(map[string]Dependency, len(right))
	for _, dep := range right {
		rightDeps[depKey(dep)] = dep
	}

	allKeys := make(map[string]bool, len(baseSet)+len(leftDeps)+len(rightDeps))
	for k := range baseSet {
		allKeys[k] = true
	}
	for k := range leftDeps {
		allKeys[k] = true
	}
	for k := range rightDeps {
		allKeys[k] = true
	}

	keys := make([]string, 0, len(allKeys))
	for k := range allKeys {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, cmp.Compare)

	var result []Dependency
	for _, key := range keys {
		_, inBase := baseSet[key]
		_, inLeft := leftDeps[key]
		_, inRight := rightDeps[key]

		if inBase {
			if !inLeft || !inRight {
				continue
			}
		} else if !inLeft && !inRight {
			continue
		}

		if dep, ok := leftDeps[key]; ok {
			result = append(result, dep)
		} else if dep, ok := rightDeps[key]; ok {
			result = append(result, dep)
		}
	}

	return result
}
