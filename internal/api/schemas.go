package api

import (
	"github.com/nikoclip/nikoclip/internal/tasks"
)

type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is served on /status for operators; clients only need /health.
type StatusResponse struct {
	Version     string `json:"version"`
	UptimeS     int64  `json:"uptime_s"`
	Store       string `json:"store"`
	ActiveTasks int    `json:"active_tasks"`
}

type TaskCreateResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskResponse mirrors the stored record. Results stays null until the task
// is finalized and is an array, possibly empty, afterwards.
type TaskResponse struct {
	Status    string         `json:"status"`
	Filename  string         `json:"filename"`
	Progress  int            `json:"progress"`
	CreatedAt float64        `json:"created_at"`
	Results   []tasks.Result `json:"results"`
	Error     string         `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func TaskToResponse(t *tasks.Task) TaskResponse {
	return TaskResponse{
		Status:    string(t.Status),
		Filename:  t.Filename,
		Progress:  t.Progress,
		CreatedAt: t.CreatedAt,
		Results:   t.Results,
		Error:     t.Error,
	}
}
