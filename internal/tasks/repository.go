package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Repository stores task records keyed by id. Every mutation is atomic per id;
// records become unreachable once their TTL, set at creation, has elapsed.
type Repository interface {
	// Create inserts task with status processing unless the caller set one,
	// and starts the record's TTL. An existing record is overwritten.
	Create(ctx context.Context, task *Task) error
	// Update merges u into the record or returns ErrNotFound. The TTL is not reset.
	Update(ctx context.Context, id string, u Update) error
	// AppendResults stores the results collection or returns ErrNotFound.
	AppendResults(ctx context.Context, id string, results []Result) error
	Get(ctx context.Context, id string) (*Task, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Delete removes the record; a missing record is not an error.
	Delete(ctx context.Context, id string) error
}

// Record field names, shared by every backend.
const (
	fieldStatus    = "status"
	fieldFilename  = "filename"
	fieldProgress  = "progress"
	fieldCreatedAt = "created_at"
	fieldResults   = "results"
	fieldError     = "error"
)

func encodeResults(results []Result) (string, error) {
	if results == nil {
		results = []Result{}
	}
	if err := validateResults(results); err != nil {
		return "", err
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to encode results: %w", err)
	}
	return string(data), nil
}

func decodeResults(raw string) ([]Result, error) {
	if raw == "" {
		return nil, nil
	}
	var results []Result
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return results, nil
}

// updateFields flattens u into string-typed record fields.
func updateFields(u Update) map[string]string {
	fields := make(map[string]string, 3)
	if u.Status != nil {
		fields[fieldStatus] = string(*u.Status)
	}
	if u.Progress != nil {
		fields[fieldProgress] = strconv.Itoa(*u.Progress)
	}
	if u.Error != nil {
		fields[fieldError] = *u.Error
	}
	return fields
}

func createFields(t *Task) map[string]string {
	status := t.Status
	if status == "" {
		status = StatusProcessing
	}
	fields := map[string]string{
		fieldStatus:    string(status),
		fieldFilename:  t.Filename,
		fieldProgress:  strconv.Itoa(t.Progress),
		fieldCreatedAt: strconv.FormatFloat(t.CreatedAt, 'f', -1, 64),
	}
	if t.Error != "" {
		fields[fieldError] = t.Error
	}
	return fields
}

// taskFromFields coerces a string-typed record back into a Task.
func taskFromFields(id string, data map[string]string) (*Task, error) {
	t := &Task{
		ID:       id,
		Status:   Status(data[fieldStatus]),
		Filename: data[fieldFilename],
		Error:    data[fieldError],
	}

	if raw, ok := data[fieldProgress]; ok && raw != "" {
		progress, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("task %s: invalid progress %q: %w", id, raw, err)
		}
		t.Progress = progress
	}

	if raw, ok := data[fieldCreatedAt]; ok && raw != "" {
		createdAt, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("task %s: invalid created_at %q: %w", id, raw, err)
		}
		t.CreatedAt = createdAt
	}

	results, err := decodeResults(data[fieldResults])
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	t.Results = results

	return t, nil
}
