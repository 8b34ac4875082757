package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nikoclip/nikoclip/internal/export"
	"github.com/nikoclip/nikoclip/internal/logging"
	"github.com/nikoclip/nikoclip/internal/tasks"
)

const maxStoredNameLen = 120

// AllowedVideoExtensions lists the upload extensions accepted by POST /tasks.
var AllowedVideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
	".m4v":  true,
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.RunContext == nil {
		cfg.RunContext = context.Background()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORS(cfg.AllowedOrigins))

	r.Get("/health", healthHandler())
	r.Get("/status", statusHandler(cfg))

	r.Post("/tasks", createTaskHandler(cfg))
	r.Get("/tasks/{task_id}", getTaskHandler(cfg))
	r.Delete("/tasks/{task_id}", deleteTaskHandler(cfg))

	return r
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
			Store:   cfg.StoreName,
		}
		if cfg.Scheduler != nil {
			resp.ActiveTasks = cfg.Scheduler.Active()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createTaskHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.WithRequestID(cfg.Logger, RequestID(r.Context()))

		if cfg.MaxUploadBytes > 0 {
			if r.ContentLength > cfg.MaxUploadBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "FILE_TOO_LARGE")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "FILE_TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "multipart field \"file\" is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !AllowedVideoExtensions[ext] {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", ext), "BAD_REQUEST")
			return
		}

		taskID := tasks.NewID()
		videoPath := filepath.Join(cfg.UploadsDir, taskID+"_"+export.SanitizeFilename(header.Filename, maxStoredNameLen))
		if err := saveUpload(file, videoPath); err != nil {
			logger.Error("failed to store upload", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to store upload", "INTERNAL_ERROR")
			return
		}

		task := &tasks.Task{
			ID:        taskID,
			Status:    tasks.StatusProcessing,
			Filename:  header.Filename,
			CreatedAt: tasks.EpochSeconds(time.Now()),
		}
		if err := cfg.Repository.Create(r.Context(), task); err != nil {
			os.Remove(videoPath)
			logger.Error("failed to create task", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to create task", "INTERNAL_ERROR")
			return
		}

		submitted := cfg.Scheduler.Submit(cfg.RunContext, taskID, func(ctx context.Context) {
			cfg.Runner.Run(ctx, taskID, videoPath)
		})
		if !submitted {
			os.Remove(videoPath)
			msg := "task is already scheduled"
			cfg.Repository.Update(context.WithoutCancel(r.Context()), taskID, tasks.FailUpdate(msg))
			WriteError(w, http.StatusConflict, msg, "CONFLICT")
			return
		}

		logger.Info("task created", "task_id", taskID, "filename", header.Filename, "bytes", header.Size)
		WriteJSON(w, http.StatusOK, TaskCreateResponse{
			TaskID: taskID,
			Status: string(tasks.StatusProcessing),
		})
	}
}

func getTaskHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := cfg.Repository.Get(r.Context(), chi.URLParam(r, "task_id"))
		if errors.Is(err, tasks.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Task not found", "NOT_FOUND")
			return
		}
		if err != nil {
			cfg.Logger.Error("failed to get task", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to get task", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, TaskToResponse(task))
	}
}

func deleteTaskHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Repository.Delete(r.Context(), chi.URLParam(r, "task_id")); err != nil {
			cfg.Logger.Error("failed to delete task", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to delete task", "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func saveUpload(src io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	return dst.Close()
}
