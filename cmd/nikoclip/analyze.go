package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/nikoclip/nikoclip/internal/config"
	"github.com/nikoclip/nikoclip/internal/export"
	"github.com/nikoclip/nikoclip/internal/logging"
	"github.com/nikoclip/nikoclip/internal/tasks"
)

const pollInterval = 250 * time.Millisecond

type analyzeOptions struct {
	OutDir          string
	WriteEDL        bool
	SampleInterval  float64
	DiversityWindow float64
	Verbose         bool
}

var analyzeOpts analyzeOptions

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video>",
	Short: "Find smile scenes in a local video file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(cmd.Context(), args[0], analyzeOpts, cmd.OutOrStdout(), cmd.ErrOrStderr(), cmd.Flags().Changed)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.OutDir, "out", "o", "", "Write scene images into this directory")
	analyzeCmd.Flags().BoolVar(&analyzeOpts.WriteEDL, "edl", false, "Also write an EDL marking each scene (requires --out)")
	analyzeCmd.Flags().Float64VarP(&analyzeOpts.SampleInterval, "interval", "i", 0, "Seconds between analysed frames (0 = every frame)")
	analyzeCmd.Flags().Float64VarP(&analyzeOpts.DiversityWindow, "window", "w", 1.0, "Minimum seconds between selected scenes")
	analyzeCmd.Flags().BoolVarP(&analyzeOpts.Verbose, "verbose", "v", false, "Log pipeline progress to stderr")
}

func runAnalyze(ctx context.Context, input string, opts analyzeOptions, stdout, stderr io.Writer, changed func(string) bool) error {
	if opts.WriteEDL && opts.OutDir == "" {
		return errors.New("--edl requires --out")
	}
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("cannot read input: %w", err)
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := "warn"
	if opts.Verbose {
		level = cfg.LogLevel()
	}
	logger := logging.New(logging.Options{Level: level, Format: logging.FormatText, Writer: stderr})

	work, err := os.MkdirTemp("", "nikoclip-analyze-*")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	st, err := openSQLiteStore(filepath.Join(work, config.DBFilename), cfg.TaskTTL(), logger)
	if err != nil {
		return err
	}
	defer st.close()

	pipeOpts := pipelineOptions(cfg)
	if changed("interval") {
		pipeOpts.SampleInterval = opts.SampleInterval
	}
	if changed("window") {
		pipeOpts.DiversityWindow = opts.DiversityWindow
	}

	eng, err := newEngine(ctx, cfg, st.repo, filepath.Join(work, "scratch"), pipeOpts, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	// The pipeline deletes its input when done.
	staged := filepath.Join(work, "input"+filepath.Ext(input))
	if err := copyFile(input, staged); err != nil {
		return fmt.Errorf("failed to stage input: %w", err)
	}

	task, err := analyzeFile(ctx, st.repo, eng.orchestrator, filepath.Base(input), staged, stderr)
	if err != nil {
		return err
	}

	printResults(stdout, task.Results)

	if opts.OutDir == "" {
		return nil
	}
	fps := 0.0
	if opts.WriteEDL {
		if probe, err := eng.decoder.Probe(ctx, input); err == nil {
			fps = probe.FPS
		} else {
			logger.Warn("probe failed, EDL uses 30 fps", "error", err)
		}
	}
	return exportScenes(stdout, task.Results, input, opts.OutDir, opts.WriteEDL, fps, pipeOpts.DiversityWindow)
}

type runner interface {
	Run(ctx context.Context, taskID, videoPath string)
}

// analyzeFile runs one task to completion, drawing its progress on w.
func analyzeFile(ctx context.Context, repo tasks.Repository, r runner, filename, path string, w io.Writer) (*tasks.Task, error) {
	taskID := tasks.NewID()
	err := repo.Create(ctx, &tasks.Task{
		ID:        taskID,
		Status:    tasks.StatusProcessing,
		Filename:  filename,
		CreatedAt: tasks.EpochSeconds(time.Now()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Finding smiles"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, taskID, path)
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for running := true; running; {
		select {
		case <-done:
			running = false
		case <-ticker.C:
			if t, err := repo.Get(context.WithoutCancel(ctx), taskID); err == nil {
				bar.Set(t.Progress)
			}
		}
	}

	task, err := repo.Get(context.WithoutCancel(ctx), taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to read task: %w", err)
	}
	if task.Status == tasks.StatusError {
		fmt.Fprintln(w)
		return nil, fmt.Errorf("analysis failed: %s", task.Error)
	}
	bar.Finish()
	return task, nil
}

func printResults(w io.Writer, results []tasks.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No smile scenes found.")
		return
	}
	fmt.Fprintf(w, "Found %d smile scene(s):\n", len(results))
	for i, r := range results {
		mime := strings.TrimPrefix(strings.SplitN(r.ImageData, ";", 2)[0], "data:")
		fmt.Fprintf(w, "  %2d  %-10s  score %.3f  %s, %d bytes encoded\n", i+1, r.Timestamp, r.Score, mime, len(r.ImageData))
	}
}

func exportScenes(w io.Writer, results []tasks.Result, input, outDir string, withEDL bool, fps, window float64) error {
	outDir = filepath.Clean(outDir)
	if err := export.PrepareOutputDir(outDir); err != nil {
		return err
	}
	scenes, err := export.ScenesFromResults(results)
	if err != nil {
		return fmt.Errorf("failed to decode scenes: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	paths, err := export.WriteScenes(outDir, base, scenes)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(w, "wrote", p)
	}

	if !withEDL {
		return nil
	}
	mediaPath, err := filepath.Abs(input)
	if err != nil {
		mediaPath = input
	}
	edl := export.GenerateEDL(scenes, base+" smiles", mediaPath, fps, window)
	name := export.SanitizeName(base, 80)
	if name == "" {
		name = "video"
	}
	edlPath := filepath.Join(outDir, name+"_smiles.edl")
	if err := os.WriteFile(edlPath, []byte(edl), 0644); err != nil {
		return fmt.Errorf("failed to write EDL: %w", err)
	}
	fmt.Fprintln(w, "wrote", edlPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
