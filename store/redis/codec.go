package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// micros formats t as Unix microseconds, the unit of every stored time.
func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func parseMicros(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(n).UTC(), nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// packMap msgpack-encodes a map field. Nil maps become the empty string.
func packMap(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := msgpack.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unpackMap(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := msgpack.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// jobFields flattens j into hash field/value pairs.
func jobFields(j *job.Job) ([]any, error) {
	data, err := packMap(j.Data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	resultData, err := packMap(j.ResultData)
	if err != nil {
		return nil, fmt.Errorf("encode result data: %w", err)
	}
	retry, err := msgpack.Marshal(j.Retry)
	if err != nil {
		return nil, fmt.Errorf("encode retry: %w", err)
	}

	fields := []any{
		"id", j.ID.String(),
		"type", j.Type,
		"status", string(j.Status),
		"data", data,
		"retry", string(retry),
		"retry_count", strconv.Itoa(j.RetryCount),
		"repeat_schedule", j.RepeatSchedule,
		"repeat_id", boolString(j.RepeatID),
		"repeated", strconv.Itoa(j.Repeated),
		"cancel_repeats", boolString(j.CancelRepeats),
		"run_at", micros(j.RunAt),
		"worker_id", j.WorkerID.String(),
		"result", j.Result,
		"result_data", resultData,
		"last_error", j.LastError,
		"created_at", micros(j.CreatedAt),
		"updated_at", micros(j.UpdatedAt),
	}
	if j.StartedAt != nil {
		fields = append(fields, "started_at", micros(*j.StartedAt))
	}
	if j.CompletedAt != nil {
		fields = append(fields, "completed_at", micros(*j.CompletedAt))
	}
	return fields, nil
}

// mapToJob decodes a job hash. Absent fields keep their zero value, so
// partial reads decode the fields they hold.
func mapToJob(m map[string]string) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobcontrol/redis: parse job id %q: %w", m["id"], err)
	}

	j := &job.Job{
		ID:             parsedID,
		Type:           m["type"],
		Status:         job.Status(m["status"]),
		RepeatSchedule: m["repeat_schedule"],
		RepeatID:       m["repeat_id"] == "1",
		CancelRepeats:  m["cancel_repeats"] == "1",
		WorkerID:       id.ParseWorkerIDOrNil(m["worker_id"]),
		Result:         m["result"],
		LastError:      m["last_error"],
	}

	ints := []struct {
		field string
		dst   *int
	}{
		{"retry_count", &j.RetryCount},
		{"repeated", &j.Repeated},
	}
	for _, f := range ints {
		if v, ok := m[f.field]; ok && v != "" {
			if *f.dst, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("jobcontrol/redis: parse %s: %w", f.field, err)
			}
		}
	}

	times := []struct {
		field string
		dst   *time.Time
	}{
		{"run_at", &j.RunAt},
		{"created_at", &j.CreatedAt},
		{"updated_at", &j.UpdatedAt},
	}
	for _, f := range times {
		if v, ok := m[f.field]; ok && v != "" {
			if *f.dst, err = parseMicros(v); err != nil {
				return nil, fmt.Errorf("jobcontrol/redis: parse %s: %w", f.field, err)
			}
		}
	}
	for field, dst := range map[string]**time.Time{"started_at": &j.StartedAt, "completed_at": &j.CompletedAt} {
		if v, ok := m[field]; ok && v != "" {
			t, parseErr := parseMicros(v)
			if parseErr != nil {
				return nil, fmt.Errorf("jobcontrol/redis: parse %s: %w", field, parseErr)
			}
			*dst = &t
		}
	}

	if j.Data, err = unpackMap(m["data"]); err != nil {
		return nil, fmt.Errorf("jobcontrol/redis: decode data: %w", err)
	}
	if j.ResultData, err = unpackMap(m["result_data"]); err != nil {
		return nil, fmt.Errorf("jobcontrol/redis: decode result data: %w", err)
	}
	if v := m["retry"]; v != "" {
		var cfg backoff.Config
		if err := msgpack.Unmarshal([]byte(v), &cfg); err != nil {
			return nil, fmt.Errorf("jobcontrol/redis: decode retry: %w", err)
		}
		j.Retry = cfg
	}
	return j, nil
}

// changeMessage is the msgpack body published by the scripts.
type changeMessage struct {
	ID     string `msgpack:"id"`
	Type   string `msgpack:"type"`
	Status string `msgpack:"status"`
	Op     string `msgpack:"op"`
}

// decodeChange parses a published change, reporting false for malformed
// messages.
func decodeChange(payload string) (job.Change, bool) {
	var msg changeMessage
	if err := msgpack.Unmarshal([]byte(payload), &msg); err != nil {
		return job.Change{}, false
	}
	jobID, err := id.ParseJobID(msg.ID)
	if err != nil {
		return job.Change{}, false
	}
	change := job.Change{
		JobID:  jobID,
		Type:   msg.Type,
		Status: job.Status(msg.Status),
		Op:     job.OpUpdated,
	}
	if msg.Op == "insert" {
		change.Op = job.OpInserted
	}
	return change, true
}
