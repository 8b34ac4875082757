// Package pipeline runs one uploaded video through decoding, smile detection,
// diverse selection and result encoding, and drives its task to a terminal
// state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/nikoclip/nikoclip/internal/imageresult"
	"github.com/nikoclip/nikoclip/internal/logging"
	"github.com/nikoclip/nikoclip/internal/smile"
	"github.com/nikoclip/nikoclip/internal/tasks"
	"github.com/nikoclip/nikoclip/internal/video"
)

// ErrInterrupted is recorded when a run is stopped by shutdown.
var ErrInterrupted = errors.New("processing interrupted by shutdown")

type Options struct {
	SampleInterval  float64 // minimum seconds between analysed frames; 0 = every frame
	DiversityWindow float64 // seconds claimed around each selected scene
}

// Orchestrator owns the per-run resources: the decoder handle, the uploaded
// file and every candidate frame.
type Orchestrator struct {
	repo      tasks.Repository
	decoder   video.Decoder
	extractor *smile.Extractor
	builder   *imageresult.Builder
	opts      Options
	logger    *slog.Logger
}

func NewOrchestrator(repo tasks.Repository, decoder video.Decoder, extractor *smile.Extractor, builder *imageresult.Builder, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		decoder:   decoder,
		extractor: extractor,
		builder:   builder,
		opts:      opts,
		logger:    logging.WithComponent(logger, "pipeline"),
	}
}

// Run processes the video at videoPath for taskID and never returns an error:
// failures are recorded on the task, and a task that disappears mid-run ends
// the run quietly. videoPath is deleted before Run returns.
func (o *Orchestrator) Run(ctx context.Context, taskID, videoPath string) {
	logger := logging.WithTaskID(o.logger, taskID)
	defer o.removeUpload(videoPath, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic", "panic", r, "stack", string(debug.Stack()))
			o.fail(ctx, taskID, fmt.Sprintf("internal error: %v", r), logger)
		}
	}()

	logger.Info("processing started", "video", logging.SanitizePath(videoPath))

	err := o.process(ctx, taskID, videoPath, logger)
	switch {
	case err == nil:
	case errors.Is(err, tasks.ErrNotFound):
		logger.Warn("task no longer exists, stopping")
	default:
		if ctx.Err() != nil {
			err = ErrInterrupted
		}
		logger.Error("processing failed", "error", err)
		o.fail(ctx, taskID, err.Error(), logger)
	}
}

func (o *Orchestrator) process(ctx context.Context, taskID, videoPath string, logger *slog.Logger) error {
	probe, err := o.decoder.Probe(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("could not open video file: %w", err)
	}
	fps := probe.FPS
	if fps <= 0 {
		fps = video.DefaultFPS
	}

	reader, err := o.decoder.Open(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("could not open video file: %w", err)
	}
	defer reader.Close()

	candidates, frames, err := o.scan(ctx, taskID, reader, fps, probe.TotalFrames)
	if err != nil {
		return err
	}
	reader.Close()

	selected := smile.SelectDiverse(candidates, o.opts.DiversityWindow)
	logger.Info("frames analysed",
		"frames", frames,
		"fps", fps,
		"candidates", len(candidates),
		"selected", len(selected),
	)
	candidates = nil

	results := o.buildResults(selected, logger)

	// Finalize even if shutdown began after the last frame.
	ctx = context.WithoutCancel(ctx)
	if err := o.repo.AppendResults(ctx, taskID, results); err != nil {
		return fmt.Errorf("store results: %w", err)
	}
	if err := o.repo.Update(ctx, taskID, tasks.CompleteUpdate()); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}

	logger.Info("processing complete", "results", len(results))
	return nil
}

// scan decodes every frame, reporting progress and checking the task still
// exists after each one, and extracts candidates from sampled frames.
func (o *Orchestrator) scan(ctx context.Context, taskID string, reader video.FrameReader, fps float64, total int) ([]smile.Candidate, int, error) {
	step := video.SkipInterval(fps, o.opts.SampleInterval)

	var candidates []smile.Candidate
	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, index, err
		}

		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return candidates, index, nil
		}
		if err != nil {
			return nil, index, err
		}

		if err := o.checkpoint(ctx, taskID, index, total); err != nil {
			return nil, index, err
		}

		if video.ShouldSample(index, step) {
			found, err := o.extractor.Extract(frame, index, fps)
			if err != nil {
				return nil, index, err
			}
			candidates = append(candidates, found...)
		}
		index++
	}
}

// checkpoint writes progress when the frame count is known and otherwise just
// confirms the task exists. Either way a missing task yields tasks.ErrNotFound.
func (o *Orchestrator) checkpoint(ctx context.Context, taskID string, index, total int) error {
	if total > 0 {
		return o.repo.Update(ctx, taskID, tasks.ProgressUpdate(min(100, index*100/total)))
	}
	ok, err := o.repo.Exists(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return tasks.ErrNotFound
	}
	return nil
}

func (o *Orchestrator) buildResults(selected []smile.Candidate, logger *slog.Logger) []tasks.Result {
	results := make([]tasks.Result, 0, len(selected))
	for i, c := range selected {
		label := fmt.Sprintf("%.2fs", c.Timestamp)
		res, err := o.builder.Build(c.Frame, label, c.Score)
		if err != nil {
			fe := imageresult.UserMessage(err, o.builder.MaxMB())
			logger.Error("dropping scene",
				"scene", i+1,
				"timestamp", label,
				"code", fe.Code,
				"error", fe.TechnicalMessage,
				"user_message", fe.UserMessage,
			)
			continue
		}
		results = append(results, res)
	}
	return results
}

func (o *Orchestrator) fail(ctx context.Context, taskID, msg string, logger *slog.Logger) {
	err := o.repo.Update(context.WithoutCancel(ctx), taskID, tasks.FailUpdate(msg))
	switch {
	case err == nil:
	case errors.Is(err, tasks.ErrNotFound):
		logger.Warn("task no longer exists while recording error state")
	default:
		logger.Error("failed to record error state", "error", err)
	}
}

func (o *Orchestrator) removeUpload(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove upload", "path", logging.SanitizePath(path), "error", err)
	}
}
