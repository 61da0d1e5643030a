package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the unique identifier for this job type.
	Type string

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, payload T) (Result, error)

	PollInterval time.Duration
	WorkTimeout  time.Duration
	Concurrency  int
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, payload T) (Result, error)) *Definition[T] {
	return &Definition[T]{Type: jobType, Handler: handler}
}

// Registration converts d into a type-erased Registration. The payload is
// decoded from Job.Data into T before the typed handler runs.
func (d *Definition[T]) Registration() Registration {
	return Registration{
		Type:         d.Type,
		PollInterval: d.PollInterval,
		WorkTimeout:  d.WorkTimeout,
		Concurrency:  d.Concurrency,
		Handler: func(ctx context.Context, j *Job) (Result, error) {
			payload, err := DecodeData[T](j.Data)
			if err != nil {
				return Result{}, Permanent(fmt.Errorf("decode data for job %q: %w", d.Type, err))
			}
			return d.Handler(ctx, payload)
		},
	}
}

// RegisterDefinition registers a typed job definition.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.Registration())
}

// EncodeData converts a typed payload into the map stored on a Job.
func EncodeData[T any](payload T) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("job: encode data: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("job: payload must encode as a JSON object: %w", err)
	}
	return data, nil
}

// DecodeData converts a stored map back into a typed payload.
func DecodeData[T any](data map[string]any) (T, error) {
	var out T
	if len(data) == 0 {
		return out, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
