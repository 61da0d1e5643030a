package redis

import (
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

func TestJobFieldsDecode(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 123456000, time.UTC)
	started := now.Add(time.Second)
	in := &job.Job{
		ID:             id.NewJobID(),
		Type:           "sendEmail",
		Status:         job.StatusRunning,
		Data:           map[string]any{"to": "a@example.com"},
		Retry:          backoff.Config{MaxRetries: 5, InitialDelay: time.Minute, Kind: backoff.KindExponential},
		RetryCount:     2,
		RepeatSchedule: "every day",
		RepeatID:       true,
		Repeated:       3,
		RunAt:          now,
		WorkerID:       id.NewWorkerID(),
		StartedAt:      &started,
	}
	in.CreatedAt, in.UpdatedAt = now, now

	fields, err := jobFields(in)
	if err != nil {
		t.Fatal(err)
	}
	hash := make(map[string]string, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		hash[fields[i].(string)] = fields[i+1].(string)
	}

	out, err := mapToJob(hash)
	if err != nil {
		t.Fatal(err)
	}
	if out.ID.String() != in.ID.String() || out.WorkerID.String() != in.WorkerID.String() {
		t.Fatalf("ids = %s/%s", out.ID, out.WorkerID)
	}
	if out.Retry != in.Retry || out.RetryCount != 2 || out.Repeated != 3 || !out.RepeatID {
		t.Fatalf("scalars lost: %+v", out)
	}
	if !out.RunAt.Equal(now) || out.StartedAt == nil || !out.StartedAt.Equal(started) || out.CompletedAt != nil {
		t.Fatalf("times = %v %v %v", out.RunAt, out.StartedAt, out.CompletedAt)
	}
	if out.Data["to"] != "a@example.com" || out.ResultData != nil {
		t.Fatalf("maps = %v %v", out.Data, out.ResultData)
	}
}

func TestDecodeChange(t *testing.T) {
	jobID := id.NewJobID()
	payload, _ := msgpack.Marshal(changeMessage{ID: jobID.String(), Type: "mail", Status: "ready", Op: "insert"})

	c, ok := decodeChange(string(payload))
	if !ok || c.Op != job.OpInserted || c.Status != job.StatusReady || c.JobID.String() != jobID.String() {
		t.Fatalf("change = %+v, %v", c, ok)
	}
	if _, ok := decodeChange("not msgpack"); ok {
		t.Fatal("malformed payload accepted")
	}
}

func TestReadFields(t *testing.T) {
	if readFields(nil) != nil {
		t.Fatal("nil fields should load the whole hash")
	}
	if readFields([]string{"bogus"}) != nil {
		t.Fatal("unknown field should load the whole hash")
	}
	got := readFields([]string{job.FieldID, job.FieldRunAt})
	if got[len(got)-1] != "run_at" || len(got) != 6 {
		t.Fatalf("readFields = %v", got)
	}
}
