// Package tasks holds the durable task record and the repositories that store it.
package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// ImageDataPrefix is the only accepted leading form of Result.ImageData.
const ImageDataPrefix = "data:image/"

// ErrNotFound is returned when a task id is unknown or its record has expired.
var ErrNotFound = errors.New("task not found")

// Task is one video analysis request as seen by clients.
// Results is nil until the task is finalized.
type Task struct {
	ID        string
	Status    Status
	Filename  string
	Progress  int
	CreatedAt float64
	Results   []Result
	Error     string
}

// Result is one selected smile scene.
type Result struct {
	Timestamp string  `json:"timestamp"`
	Score     float64 `json:"score"`
	ImageData string  `json:"image_data"`
}

// Validate rejects results whose image payload is not an inline image data URI.
func (r Result) Validate() error {
	if !strings.HasPrefix(r.ImageData, ImageDataPrefix) {
		return fmt.Errorf("image_data must be a data URI starting with %q", ImageDataPrefix)
	}
	return nil
}

// Update is a partial set of fields merged into an existing record.
// Nil fields are left untouched.
type Update struct {
	Status   *Status
	Progress *int
	Error    *string
}

func ProgressUpdate(progress int) Update {
	return Update{Progress: &progress}
}

// CompleteUpdate marks a task complete with full progress.
func CompleteUpdate() Update {
	status := StatusComplete
	progress := 100
	return Update{Status: &status, Progress: &progress}
}

// FailUpdate marks a task as failed with msg recorded verbatim.
func FailUpdate(msg string) Update {
	status := StatusError
	return Update{Status: &status, Error: &msg}
}

func (u Update) empty() bool {
	return u.Status == nil && u.Progress == nil && u.Error == nil
}

// NewID returns a fresh opaque task id.
func NewID() string {
	return uuid.NewString()
}

// EpochSeconds converts t to float epoch seconds as stored in created_at.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func validateResults(results []Result) error {
	for i, r := range results {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("result %d: %w", i, err)
		}
	}
	return nil
}
