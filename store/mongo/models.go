package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// ── Job model ─────────────────────────────────────────────────────

type retryModel struct {
	MaxRetries   int    `bson:"max_retries"`
	InitialDelay int64  `bson:"initial_delay"`
	Kind         string `bson:"kind"`
	MaxDelay     int64  `bson:"max_delay"`
}

type jobModel struct {
	ID             string         `bson:"_id"`
	Type           string         `bson:"type"`
	Status         string         `bson:"status"`
	Data           map[string]any `bson:"data,omitempty"`
	Retry          retryModel     `bson:"retry"`
	RetryCount     int            `bson:"retry_count"`
	RepeatSchedule string         `bson:"repeat_schedule"`
	RepeatID       bool           `bson:"repeat_id"`
	Repeated       int            `bson:"repeated"`
	CancelRepeats  bool           `bson:"cancel_repeats"`
	RunAt          time.Time      `bson:"run_at"`
	WorkerID       string         `bson:"worker_id"`
	Result         string         `bson:"result"`
	ResultData     map[string]any `bson:"result_data,omitempty"`
	LastError      string         `bson:"last_error"`
	StartedAt      *time.Time     `bson:"started_at,omitempty"`
	CompletedAt    *time.Time     `bson:"completed_at,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:     j.ID.String(),
		Type:   j.Type,
		Status: string(j.Status),
		Data:   j.Data,
		Retry: retryModel{
			MaxRetries:   j.Retry.MaxRetries,
			InitialDelay: j.Retry.InitialDelay.Nanoseconds(),
			Kind:         string(j.Retry.Kind),
			MaxDelay:     j.Retry.MaxDelay.Nanoseconds(),
		},
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
		return nil, fmt.Errorf("jobcontrol/mongo: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: jobcontrol.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:     parsedID,
		Type:   m.Type,
		Status: job.Status(m.Status),
		Data:   m.Data,
		Retry: backoff.Config{
			MaxRetries:   m.Retry.MaxRetries,
			InitialDelay: time.Duration(m.Retry.InitialDelay),
			Kind:         backoff.Kind(m.Retry.Kind),
			MaxDelay:     time.Duration(m.Retry.MaxDelay),
		},
		RetryCount:     m.RetryCount,
		RepeatSchedule: m.RepeatSchedule,
		RepeatID:       m.RepeatID,
		Repeated:       m.Repeated,
		CancelRepeats:  m.CancelRepeats,
		RunAt:          m.RunAt.UTC(),
		WorkerID:       id.ParseWorkerIDOrNil(m.WorkerID),
		Result:         m.Result,
		ResultData:     m.ResultData,
		LastError:      m.LastError,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
	}, nil
}
