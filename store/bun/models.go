package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:jobcontrol_jobs"`

	ID             string         `bun:"id,pk"`
	Type           string         `bun:"type,notnull"`
	Status         string         `bun:"status,notnull"`
	Data           map[string]any `bun:"data,type:jsonb"`
	Retry          backoff.Config `bun:"retry,type:jsonb,notnull"`
	RetryCount     int            `bun:"retry_count,notnull"`
	RepeatSchedule string         `bun:"repeat_schedule,notnull"`
	RepeatID       bool           `bun:"repeat_id,notnull"`
	Repeated       int            `bun:"repeated,notnull"`
	CancelRepeats  bool           `bun:"cancel_repeats,notnull"`
	RunAt          time.Time      `bun:"run_at,notnull"`
	WorkerID       string         `bun:"worker_id,notnull"`
	Result         string         `bun:"result,notnull"`
	ResultData     map[string]any `bun:"result_data,type:jsonb"`
	LastError      string         `bun:"last_error,notnull"`
	StartedAt      *time.Time     `bun:"started_at"`
	CompletedAt    *time.Time     `bun:"completed_at"`
	CreatedAt      time.Time      `bun:"created_at,notnull"`
	UpdatedAt      time.Time      `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:             j.ID.String(),
		Type:           j.Type,
		Status:         string(j.Status),
		Data:           j.Data,
		Retry:          j.Retry,
		RetryCount:     j.RetryCount,
		RepeatSchedule: j.RepeatSchedule,
		RepeatID:       j.RepeatID,
		Repeated:       j.Repeated,
		CancelRepeats:  j.CancelRepeats,
		RunAt:          j.RunAt,
		WorkerID:       j.WorkerID.String(),
		Result:         j.Result,
		ResultData:     j.ResultData,
		LastError:      j.LastError,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("jobcontrol/bun: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: jobcontrol.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		Type:           m.Type,
		Status:         job.Status(m.Status),
		Data:           m.Data,
		Retry:          m.Retry,
		RetryCount:     m.RetryCount,
		RepeatSchedule: m.RepeatSchedule,
		RepeatID:       m.RepeatID,
		Repeated:       m.Repeated,
		CancelRepeats:  m.CancelRepeats,
		RunAt:          m.RunAt,
		WorkerID:       id.ParseWorkerIDOrNil(m.WorkerID),
		Result:         m.Result,
		ResultData:     m.ResultData,
		LastError:      m.LastError,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
	}, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
