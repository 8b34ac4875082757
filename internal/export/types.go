// Package export writes a finished task's scenes to disk for the command line:
// one image per scene plus an optional EDL marking each scene on the source.
package export

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/nikoclip/nikoclip/internal/tasks"
)

// Scene is a decoded task result.
type Scene struct {
	Index     int
	Label     string
	Seconds   float64
	Score     float64
	MIMEType  string
	ImageData []byte
}

// ScenesFromResults decodes results in order. Labels are "<seconds>s".
func ScenesFromResults(results []tasks.Result) ([]Scene, error) {
	scenes := make([]Scene, 0, len(results))
	for i, r := range results {
		seconds, err := ParseLabel(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		mime, data, err := DecodeDataURI(r.ImageData)
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		scenes = append(scenes, Scene{
			Index:     i + 1,
			Label:     r.Timestamp,
			Seconds:   seconds,
			Score:     r.Score,
			MIMEType:  mime,
			ImageData: data,
		})
	}
	return scenes, nil
}

// ParseLabel reads a timestamp label such as "12.34s".
func ParseLabel(label string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(label, "s"), 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid timestamp label %q", label)
	}
	return v, nil
}

// DecodeDataURI splits a base64 data URI into its MIME type and bytes.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("data URI has no payload")
	}
	mime, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return mime, data, nil
}
