// Package video decodes uploaded videos into JPEG frames through ffmpeg and
// decides which of those frames are worth analysing.
package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const (
	megabyte       = 1024 * 1024
	maxFrameBytes  = 64 * megabyte
	maxStderrBytes = 4 * 1024
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ErrOpen wraps every failure to start decoding a file.
var ErrOpen = errors.New("cannot open video")

// Decoder is what the analysis pipeline needs from a video backend.
type Decoder interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	Open(ctx context.Context, path string) (FrameReader, error)
}

// FrameReader yields encoded frames in decode order.
type FrameReader interface {
	// Next returns the next frame, or io.EOF once the stream is exhausted.
	// The returned slice is owned by the caller.
	Next() ([]byte, error)
	// Close releases the decoder. Calling it more than once is safe.
	Close() error
}

type ProbeResult struct {
	FPS         float64
	TotalFrames int
	Width       int
	Height      int
	Duration    float64
}

// FFmpeg implements Decoder with the ffprobe and ffmpeg binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

func NewFFmpeg(ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads stream metadata. A file without a video stream is an ErrOpen.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &tailWriter{w: &stderr, limit: maxStderrBytes}

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe: %v: %s", ErrOpen, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: ffprobe JSON parse error: %v", ErrOpen, err)
	}
	if len(res.Streams) == 0 {
		return nil, fmt.Errorf("%w: no video stream", ErrOpen)
	}
	s := res.Streams[0]

	fps := parseRate(s.AvgFrameRate)
	if fps == 0 {
		fps = parseRate(s.RFrameRate)
	}

	duration, _ := strconv.ParseFloat(s.Duration, 64)
	if duration == 0 {
		duration, _ = strconv.ParseFloat(res.Format.Duration, 64)
	}

	total, err := strconv.Atoi(s.NbFrames)
	if err != nil || total < 0 {
		total = 0
	}
	if total == 0 && duration > 0 && fps > 0 {
		total = int(math.Floor(duration * fps))
	}

	return &ProbeResult{
		FPS:         fps,
		TotalFrames: total,
		Width:       s.Width,
		Height:      s.Height,
		Duration:    duration,
	}, nil
}

// parseRate reads ffprobe's "num/den" rational. Unparseable rates are 0.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return 0
		}
		return v
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	if r := n / d; r > 0 {
		return r
	}
	return 0
}

// Open starts ffmpeg writing every frame as MJPEG to a pipe.
func (f *FFmpeg) Open(ctx context.Context, path string) (FrameReader, error) {
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-",
	)
	stderr := &bytes.Buffer{}
	cmd.Stderr = &tailWriter{w: stderr, limit: maxStderrBytes}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrOpen, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, megabyte), maxFrameBytes)
	scanner.Split(SplitJpeg)

	f.logger.Debug("ffmpeg decoder started", "pid", cmd.Process.Pid)

	return &ffmpegReader{cmd: cmd, scanner: scanner, stderr: stderr, logger: f.logger}, nil
}

type ffmpegReader struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *bytes.Buffer
	logger  *slog.Logger
	frames  int

	once    sync.Once
	waitErr error
}

func (r *ffmpegReader) Next() ([]byte, error) {
	if r.scanner.Scan() {
		token := r.scanner.Bytes()
		frame := make([]byte, len(token))
		copy(frame, token)
		r.frames++
		return frame, nil
	}
	if err := r.scanner.Err(); err != nil {
		r.finish(true)
		return nil, fmt.Errorf("read frames: %w", err)
	}
	if err := r.finish(false); err != nil {
		tail := strings.TrimSpace(r.stderr.String())
		if r.frames == 0 {
			return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrOpen, err, tail)
		}
		// A damaged tail still leaves the decoded prefix usable.
		r.logger.Warn("ffmpeg exited with error after decoding frames",
			"frames", r.frames, "error", err, "stderr_tail", tail)
	}
	return nil, io.EOF
}

func (r *ffmpegReader) Close() error {
	r.finish(true)
	return nil
}

// finish reaps the process exactly once, killing it first when asked.
func (r *ffmpegReader) finish(kill bool) error {
	r.once.Do(func() {
		if kill && r.cmd.Process != nil {
			_ = r.cmd.Process.Kill()
		}
		r.waitErr = r.cmd.Wait()
	})
	return r.waitErr
}

// SplitJpeg is a bufio.SplitFunc yielding whole JPEG images delimited by
// their SOI and EOI markers. Bytes before the first SOI are skipped.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// tailWriter keeps only the last limit bytes written to it.
type tailWriter struct {
	w     *bytes.Buffer
	limit int
}

func (tw *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	tw.w.Write(p)
	if tw.w.Len() > tw.limit {
		b := tw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-tw.limit:]...)
		tw.w.Reset()
		tw.w.Write(tail)
	}
	return n, nil
}
