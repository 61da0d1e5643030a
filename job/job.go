package job

import (
	"maps"
	"time"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/id"
)

// Job is one persisted unit of work.
type Job struct {
	jobcontrol.Entity

	ID     id.JobID       `json:"id"`
	Type   string         `json:"type"`
	Status Status         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`

	Retry      backoff.Config `json:"retry"`
	RetryCount int            `json:"retry_count"`

	RepeatSchedule string `json:"repeat_schedule,omitempty"`
	RepeatID       bool   `json:"repeat_id,omitempty"`
	Repeated       int    `json:"repeated,omitempty"`
	CancelRepeats  bool   `json:"cancel_repeats,omitempty"`

	RunAt    time.Time   `json:"run_at"`
	WorkerID id.WorkerID `json:"worker_id,omitempty"`

	Result      string         `json:"result,omitempty"`
	ResultData  map[string]any `json:"result_data,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a copy of j that shares no top-level maps or pointers
// with the original. Nested values inside Data are shared.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Data = maps.Clone(j.Data)
	cp.ResultData = maps.Clone(j.ResultData)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Recurring reports whether completing j schedules a successor.
func (j *Job) Recurring() bool {
	return j.RepeatID && j.RepeatSchedule != ""
}
