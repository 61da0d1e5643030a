package job_test

import (
	"testing"
	"time"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

func TestQueryMatches(t *testing.T) {
	now := time.Now()
	old := &job.Job{
		Entity: jobcontrol.Entity{UpdatedAt: now.Add(-100 * time.Hour)},
		Type:   "report",
		Status: job.StatusCompleted,
	}

	tests := []struct {
		name string
		q    job.Query
		want bool
	}{
		{"empty query", job.Query{}, true},
		{"type match", job.Query{Types: []string{"report"}}, true},
		{"type mismatch", job.Query{Types: []string{"sendEmail"}}, false},
		{"excluded type", job.Query{ExcludeTypes: []string{"report"}}, false},
		{"status match", job.Query{Statuses: []job.Status{job.StatusFailed, job.StatusCompleted}}, true},
		{"status mismatch", job.Query{Statuses: []job.Status{job.StatusReady}}, false},
		{"updated before", job.Query{UpdatedBefore: now.Add(-72 * time.Hour)}, true},
		{"updated too recently", job.Query{UpdatedBefore: now.Add(-200 * time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Matches(old); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransitionAllows_WorkerGuard(t *testing.T) {
	owner := id.NewWorkerID()
	j := &job.Job{Status: job.StatusRunning, WorkerID: owner}

	ok := job.Transition{From: job.StatusRunning, To: job.StatusCompleted, WorkerID: owner}
	if !ok.Allows(j) {
		t.Error("owner should be allowed to complete")
	}

	stale := job.Transition{From: job.StatusRunning, To: job.StatusCompleted, WorkerID: id.NewWorkerID()}
	if stale.Allows(j) {
		t.Error("a different worker must not complete the job")
	}

	wrongFrom := job.Transition{From: job.StatusReady, To: job.StatusRunning}
	if wrongFrom.Allows(j) {
		t.Error("From mismatch must be rejected")
	}
}

func TestTransitionApply_Retry(t *testing.T) {
	now := time.Now()
	next := now.Add(4 * time.Second)
	j := &job.Job{Status: job.StatusRunning, WorkerID: id.NewWorkerID(), Retry: backoff.DefaultConfig()}

	job.Transition{
		From: job.StatusRunning, To: job.StatusReady,
		LastError: "boom", IncrementRetry: true, RunAt: next,
	}.Apply(j, now)

	if j.Status != job.StatusReady || j.RetryCount != 1 || !j.RunAt.Equal(next) {
		t.Errorf("unexpected job after retry: %+v", j)
	}
	if !j.WorkerID.IsNil() {
		t.Error("worker should be released on retry")
	}
	if j.LastError != "boom" {
		t.Errorf("LastError = %q", j.LastError)
	}
	if j.CompletedAt != nil {
		t.Error("retry must not set CompletedAt")
	}
}

func TestTransitionApply_Complete(t *testing.T) {
	now := time.Now()
	j := &job.Job{Status: job.StatusRunning}

	job.Transition{
		From: job.StatusRunning, To: job.StatusCompleted,
		Result: "Removed 3 stale jobs", ResultData: map[string]any{"removed": 3},
	}.Apply(j, now)

	if j.Result != "Removed 3 stale jobs" || j.ResultData["removed"] != 3 {
		t.Errorf("result not recorded: %+v", j)
	}
	if j.CompletedAt == nil || !j.CompletedAt.Equal(now) || !j.UpdatedAt.Equal(now) {
		t.Error("terminal transition must stamp CompletedAt and UpdatedAt")
	}
}

func TestProject(t *testing.T) {
	j := &job.Job{
		ID:     id.NewJobID(),
		Type:   "report",
		Status: job.StatusFailed,
		Data:   map[string]any{"k": "v"},
	}
	p := job.Project(j, []string{job.FieldID, job.FieldType, job.FieldStatus})
	if p.ID.String() != j.ID.String() || p.Type != "report" || p.Status != job.StatusFailed {
		t.Errorf("projection lost fields: %+v", p)
	}
	if p.Data != nil {
		t.Error("projection should drop unrequested fields")
	}

	full := job.Project(j, nil)
	full.Data["k"] = "changed"
	if j.Data["k"] != "v" {
		t.Error("full projection must not alias the original data map")
	}
}

func TestOptionsBuild(t *testing.T) {
	now := time.Now()

	ready := job.NewOptions().Build("t", nil, now)
	if ready.Status != job.StatusReady || !ready.RunAt.Equal(now) {
		t.Errorf("immediate job should be ready at now: %+v", ready)
	}

	later := job.NewOptions(job.WithRunAt(now.Add(time.Hour))).Build("t", nil, now)
	if later.Status != job.StatusPending {
		t.Errorf("future job should be pending, got %s", later.Status)
	}

	rec := job.NewOptions(job.WithRepeat("every day"), job.WithCancelRepeats()).Build("t", nil, now)
	if !rec.RepeatID || !rec.CancelRepeats || rec.RepeatSchedule != "every day" {
		t.Errorf("recurrence settings not applied: %+v", rec)
	}
}
