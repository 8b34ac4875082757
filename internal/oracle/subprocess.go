package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
	stopTimeout    = 5 * time.Second
)

// Config holds the model server's launch settings.
type Config struct {
	PythonPath string // path to python binary; empty = auto-detect
	ModuleName string // default "nikoclip_oracle"
	Device     string // inference device passed to the server, e.g. CPU
	Logger     *slog.Logger
}

func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		ModuleName: "nikoclip_oracle",
		Device:     "CPU",
		Logger:     logger,
	}
}

// SubprocessOracle keeps one model server process alive for the lifetime of
// the program. Calls are serialised: the server handles one request at a time.
type SubprocessOracle struct {
	logger *slog.Logger

	mu     sync.Mutex
	stdin  io.WriteCloser
	stdout io.Reader

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	cmd    *exec.Cmd
	stderr *bytes.Buffer
	done   chan struct{}
}

// Start launches `python -m <module> serve --device <device>` and waits for it
// to answer a ping, so a broken model installation fails at startup.
func Start(ctx context.Context, cfg Config) (*SubprocessOracle, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	cmd := exec.Command(python, "-m", cfg.ModuleName, "serve", "--device", cfg.Device)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start model server: %w", err)
	}

	o := newSubprocessOracle(stdin, stdout, cfg.Logger)
	o.cmd = cmd
	o.stderr = &stderrBuf
	o.done = make(chan struct{})
	go func() {
		err := cmd.Wait()
		cfg.Logger.Info("model server exited", "error", err)
		close(o.done)
	}()

	cfg.Logger.Info("model server started",
		"python", python,
		"module", cfg.ModuleName,
		"device", cfg.Device,
		"pid", cmd.Process.Pid,
	)

	info, err := o.pingWithin(ctx)
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("model server not ready: %w: %s", err, truncate(stderrBuf.String(), 512))
	}
	cfg.Logger.Info("model server ready",
		"version", info.Version,
		"face_model", info.FaceModel,
		"emotion_model", info.EmotionModel,
	)
	return o, nil
}

func newSubprocessOracle(stdin io.WriteCloser, stdout io.Reader, logger *slog.Logger) *SubprocessOracle {
	return &SubprocessOracle{stdin: stdin, stdout: stdout, logger: logger}
}

func (o *SubprocessOracle) DetectFaces(frame []byte) ([]Detection, error) {
	resp, err := o.call(request{Op: opDetect, Image: frame})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	return resp.Faces, nil
}

func (o *SubprocessOracle) ScoreEmotions(face []byte) ([]float64, error) {
	resp, err := o.call(request{Op: opEmotion, Image: face})
	if err != nil {
		return nil, fmt.Errorf("score emotions: %w", err)
	}
	if len(resp.Scores) < numEmotions {
		return nil, fmt.Errorf("score emotions: got %d channels, want %d", len(resp.Scores), numEmotions)
	}
	return resp.Scores, nil
}

// Ping asks the server to identify itself.
func (o *SubprocessOracle) Ping() (*Info, error) {
	resp, err := o.call(request{Op: opPing})
	if err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if resp.Info == nil {
		return &Info{}, nil
	}
	return resp.Info, nil
}

// pingWithin runs Ping but gives up when ctx ends first. The abandoned call
// is unblocked by the Close that follows.
func (o *SubprocessOracle) pingWithin(ctx context.Context) (*Info, error) {
	type result struct {
		info *Info
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		info, err := o.Ping()
		ch <- result{info, err}
	}()

	select {
	case r := <-ch:
		return r.info, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *SubprocessOracle) call(req request) (*response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed.Load() {
		return nil, ErrClosed
	}
	if err := writeMessage(o.stdin, req); err != nil {
		return nil, err
	}

	var resp response
	if err := readMessage(o.stdout, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, errors.New(msg)
	}
	return &resp, nil
}

// Close stops the server: stdin is closed so it can exit on its own, and it
// is killed if it has not done so within stopTimeout. Later calls are no-ops.
func (o *SubprocessOracle) Close() error {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		o.closeErr = o.stdin.Close()

		if o.cmd == nil {
			return
		}
		select {
		case <-o.done:
		case <-time.After(stopTimeout):
			o.logger.Warn("model server stop timeout, force killing process")
			if err := o.cmd.Process.Kill(); err != nil {
				o.logger.Error("failed to kill model server", "error", err)
			}
			<-o.done
		}
	})
	return o.closeErr
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
