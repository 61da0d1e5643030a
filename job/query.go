package job

import (
	"maps"
	"slices"
	"time"

	"github.com/xraph/jobcontrol/id"
)

// Field names usable in Query.Fields projections.
const (
	FieldID        = "id"
	FieldType      = "type"
	FieldStatus    = "status"
	FieldUpdatedAt = "updated_at"
	FieldCreatedAt = "created_at"
	FieldRunAt     = "run_at"
)

// Query filters jobs for Find, Count and bulk operations. Empty slices and
// zero values mean "no constraint".
type Query struct {
	Types         []string
	ExcludeTypes  []string
	Statuses      []Status
	UpdatedBefore time.Time

	// Fields is a projection hint. Stores that cannot project return
	// whole records.
	Fields []string

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Matches reports whether j satisfies every filter in q.
func (q Query) Matches(j *Job) bool {
	if len(q.Types) > 0 && !slices.Contains(q.Types, j.Type) {
		return false
	}
	if slices.Contains(q.ExcludeTypes, j.Type) {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, j.Status) {
		return false
	}
	if !q.UpdatedBefore.IsZero() && !j.UpdatedAt.Before(q.UpdatedBefore) {
		return false
	}
	return true
}

// StatusStrings returns q.Statuses as plain strings for drivers.
func (q Query) StatusStrings() []string {
	out := make([]string, len(q.Statuses))
	for i, s := range q.Statuses {
		out[i] = string(s)
	}
	return out
}

// ClaimQuery selects the next ready job of one type.
type ClaimQuery struct {
	Type     string
	Now      time.Time
	WorkerID id.WorkerID
}

// Transition is a compare-and-set status change applied by
// Store.UpdateStatus. The job must currently be in From (and, when
// WorkerID is set, held by that worker) or the update fails with
// jobcontrol.ErrInvalidState.
type Transition struct {
	From     Status
	To       Status
	WorkerID id.WorkerID

	Result     string
	ResultData map[string]any
	LastError  string

	// IncrementRetry adds one to RetryCount.
	IncrementRetry bool

	// RunAt, when non-zero, replaces the job's RunAt.
	RunAt time.Time
}

// Allows reports whether t may be applied to j.
func (t Transition) Allows(j *Job) bool {
	if j.Status != t.From || !CanTransition(t.From, t.To) {
		return false
	}
	if !t.WorkerID.IsNil() && j.WorkerID.String() != t.WorkerID.String() {
		return false
	}
	return true
}

// Apply mutates j to reflect t at time now. The caller checks Allows first.
func (t Transition) Apply(j *Job, now time.Time) {
	j.Status = t.To
	j.UpdatedAt = now
	if t.IncrementRetry {
		j.RetryCount++
	}
	if !t.RunAt.IsZero() {
		j.RunAt = t.RunAt
	}
	if t.LastError != "" {
		j.LastError = t.LastError
	}
	switch {
	case t.To == StatusReady:
		j.WorkerID = id.Nil
	case t.To == StatusCompleted:
		j.Result = t.Result
		j.ResultData = maps.Clone(t.ResultData)
	}
	if t.To.IsTerminal() {
		done := now
		j.CompletedAt = &done
	}
}

// Project returns a copy of j holding only the requested fields. An empty
// field list returns a full copy.
func Project(j *Job, fields []string) *Job {
	if len(fields) == 0 {
		return j.Clone()
	}
	out := &Job{ID: j.ID}
	for _, f := range fields {
		switch f {
		case FieldType:
			out.Type = j.Type
		case FieldStatus:
			out.Status = j.Status
		case FieldUpdatedAt:
			out.UpdatedAt = j.UpdatedAt
		case FieldCreatedAt:
			out.CreatedAt = j.CreatedAt
		case FieldRunAt:
			out.RunAt = j.RunAt
		}
	}
	return out
}
