// Package imageresult turns selected frames into task results carrying the
// image inline as a base64 data URI.
package imageresult

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nikoclip/nikoclip/internal/tasks"
)

const DefaultMaxMB = 5.0

// Decision reasons.
const (
	ReasonInvalidFile       = "invalid_file"
	ReasonForcedFallback    = "forced_fallback"
	ReasonSizeExceeded      = "size_limit_exceeded"
	ReasonWithinLimits      = "size_within_limits"
	ReasonErrorCheckingFile = "error_checking_file"
)

var mimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

// Decision says whether a file may be inlined, and why.
type Decision struct {
	UseBase64  bool
	Reason     string
	FileSizeMB float64
	Error      string
}

type Builder struct {
	maxMB      float64
	scratchDir string
	logger     *slog.Logger
}

func NewBuilder(maxMB float64, scratchDir string, logger *slog.Logger) *Builder {
	if maxMB <= 0 {
		maxMB = DefaultMaxMB
	}
	return &Builder{maxMB: maxMB, scratchDir: scratchDir, logger: logger}
}

// MaxMB is the inline size limit in megabytes.
func (b *Builder) MaxMB() float64 {
	return b.maxMB
}

// Build stages frame in a scratch JPEG and builds a result from it. The
// scratch file is removed before Build returns.
func (b *Builder) Build(frame []byte, label string, score float64) (tasks.Result, error) {
	if err := os.MkdirAll(b.scratchDir, 0755); err != nil {
		return tasks.Result{}, newError(CodeProcessing, err, "cannot create scratch dir")
	}

	f, err := os.CreateTemp(b.scratchDir, "scene-*.jpg")
	if err != nil {
		return tasks.Result{}, newError(CodeProcessing, err, "cannot create scratch file")
	}
	path := f.Name()
	defer os.Remove(path)

	_, werr := f.Write(frame)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return tasks.Result{}, newError(CodeProcessing, werr, "cannot write scratch file")
	}

	return b.BuildFromFile(path, label, score, false)
}

// BuildFromFile inlines the image at path when it is valid and within the
// size limit. Otherwise, or when force is set, it falls back to a URL result;
// no URL fallback exists, so that path ends in an ALL_FALLBACKS_FAILED error
// wrapping every earlier failure.
func (b *Builder) BuildFromFile(path, label string, score float64, force bool) (tasks.Result, error) {
	name := filepath.Base(path)
	var reasons []string
	var causes []error

	d := b.Decide(path, force)
	if d.UseBase64 {
		data, err := b.encode(path)
		if err == nil {
			b.logger.Debug("built inline image result", "file", name, "size_mb", d.FileSizeMB)
			return tasks.Result{Timestamp: label, Score: score, ImageData: data}, nil
		}
		reasons = append(reasons, "Base64 encoding failed: "+err.Error())
		causes = append(causes, err)
		b.logger.Warn("base64 encoding failed, attempting URL fallback", "file", name, "error", err)
	} else {
		reasons = append(reasons, "Base64 not suitable: "+d.Reason)
		causes = append(causes, decisionError(d, b.maxMB))
		b.logger.Info("skipping base64", "file", name, "reason", d.Reason)
	}

	fallback := newError(CodeFallback, nil,
		"cannot create result for %s: base64 unavailable and URL fallback not implemented", name)
	reasons = append(reasons, "URL fallback failed: "+fallback.Error())
	causes = append(causes, fallback)

	final := &ProcessingError{
		Code:    CodeAllFallbacks,
		Message: "all fallback attempts failed for " + name,
		SizeMB:  d.FileSizeMB,
		Reasons: reasons,
		Err:     errors.Join(causes...),
	}
	b.logger.Error("image result failed", "file", name, "error", final.Error())
	return tasks.Result{}, final
}

// Decide checks whether the file at path can be inlined.
func (b *Builder) Decide(path string, force bool) Decision {
	if err := validateFile(path); err != nil {
		return Decision{Reason: ReasonInvalidFile, Error: err.Error()}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Decision{Reason: ReasonErrorCheckingFile, Error: err.Error()}
	}
	sizeMB := float64(info.Size()) / (1024 * 1024)

	switch {
	case force:
		return Decision{Reason: ReasonForcedFallback, FileSizeMB: sizeMB}
	case sizeMB > b.maxMB:
		return Decision{Reason: ReasonSizeExceeded, FileSizeMB: sizeMB}
	default:
		return Decision{UseBase64: true, Reason: ReasonWithinLimits, FileSizeMB: sizeMB}
	}
}

// validateFile requires an existing, non-empty, readable file with a known
// image extension.
func validateFile(path string) error {
	if _, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; !ok {
		return fmt.Errorf("unsupported image extension %q", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var head [10]byte
	n, err := f.Read(head[:])
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return fmt.Errorf("image file %s is empty", filepath.Base(path))
		}
		return err
	}
	return nil
}

func (b *Builder) encode(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", newError(CodeEncoding, err, "base64 encoding failed")
	}
	return DataURI(MIMEType(path), raw), nil
}

// MIMEType infers an image MIME type from the extension, defaulting to JPEG.
func MIMEType(path string) string {
	if m, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return "image/jpeg"
}

func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func decisionError(d Decision, maxMB float64) *ProcessingError {
	switch d.Reason {
	case ReasonInvalidFile:
		return newError(CodeValidation, nil, "%s", d.Error)
	case ReasonSizeExceeded:
		pe := newError(CodeSize, nil, "image is %.2fMB, limit %gMB", d.FileSizeMB, maxMB)
		pe.SizeMB = d.FileSizeMB
		return pe
	case ReasonErrorCheckingFile:
		return newError(CodeProcessing, nil, "%s", d.Error)
	default:
		return newError(CodeProcessing, nil, "base64 not used: %s", d.Reason)
	}
}
